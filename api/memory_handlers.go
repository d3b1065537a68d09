package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/beaconhq/beacon/pkg/eventstream"
	"github.com/beaconhq/beacon/pkg/flags"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
	"github.com/beaconhq/beacon/pkg/sync"
)

// maxPushBatch caps how many items one push request may carry.
const maxPushBatch = 1000

type pushMemoriesRequest struct {
	DeviceID string            `json:"device_id"`
	Memories []memory.Incoming `json:"memories"`
}

type syncMemoriesResponse struct {
	Memories []memory.Record `json:"memories"`
	Cursor   time.Time       `json:"cursor"`
	HasMore  bool            `json:"has_more"`
}

type listMemoriesResponse struct {
	Memories []memory.Record `json:"memories"`
	Count    int             `json:"count"`
}

type deleteMemoryResponse struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) handlePushMemories(c *fiber.Ctx) error {
	user := s.user(c)
	if !s.flags.Enabled(flags.FlagMemorySync, user.ID, true) {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "memory sync is disabled"})
	}

	var req pushMemoriesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Memories) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "memories must not be empty"})
	}
	if len(req.Memories) > maxPushBatch {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{Error: "batch too large"})
	}

	result, err := s.engine.PushBatch(c.Context(), user.ID, req.Memories)
	if err != nil {
		s.log.Error("failed to push memories", "owner_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to push memories"})
	}

	return c.JSON(result)
}

func (s *Server) handleSyncMemories(c *fiber.Ctx) error {
	user := s.user(c)
	if !s.flags.Enabled(flags.FlagMemorySync, user.ID, true) {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "memory sync is disabled"})
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "since must be an RFC 3339 timestamp"})
		}
		since = parsed
	}

	pageSize := c.QueryInt("page_size")
	if pageSize < 0 || pageSize > sync.MaxPageSize {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid page_size"})
	}

	page, err := s.engine.Pull(c.Context(), user.ID, c.Query("device_id"), since, pageSize)
	if err != nil {
		s.log.Error("failed to pull memories", "owner_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to pull memories"})
	}

	resp := syncMemoriesResponse{
		Memories: page.Items,
		Cursor:   page.Cursor,
		HasMore:  page.HasMore,
	}
	if resp.Memories == nil {
		resp.Memories = []memory.Record{}
	}
	return c.JSON(resp)
}

func (s *Server) handleListMemories(c *fiber.Ctx) error {
	user := s.user(c)

	f := memory.Filter{
		Category: c.Query("category"),
		Limit:    c.QueryInt("limit"),
	}
	if f.Limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid limit"})
	}

	recs, err := s.engine.List(c.Context(), user.ID, f)
	if err != nil {
		s.log.Error("failed to list memories", "owner_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list memories"})
	}
	if recs == nil {
		recs = []memory.Record{}
	}

	return c.JSON(listMemoriesResponse{Memories: recs, Count: len(recs)})
}

func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	user := s.user(c)
	externalID := c.Params("external_id")

	deleted, err := s.engine.Delete(c.Context(), user.ID, externalID)
	if err != nil {
		s.log.Error("failed to delete memory",
			"owner_id", user.ID, "external_id", externalID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete memory"})
	}

	if deleted {
		s.emit(eventstream.NewMemoryChangedEvent(user.ID, externalID, eventstream.ChangeDeleted))
	}

	return c.JSON(deleteMemoryResponse{Deleted: deleted})
}

func (s *Server) handlePatchMemory(c *fiber.Ctx) error {
	user := s.user(c)
	externalID := c.Params("external_id")

	var patch memory.Patch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	rec, err := s.engine.Update(c.Context(), user.ID, externalID, patch)
	if err != nil {
		if storage.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
		}
		s.log.Error("failed to patch memory",
			"owner_id", user.ID, "external_id", externalID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to patch memory"})
	}

	s.emit(eventstream.NewMemoryChangedEvent(user.ID, externalID, eventstream.ChangePatched))

	return c.JSON(rec)
}
