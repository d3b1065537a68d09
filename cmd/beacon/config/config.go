// Package configcmder provides the config command for managing persistent
// beacon configuration stored in the .beacon/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent beacon configuration.

Configuration is stored as config.toml in the .beacon/ directory and provides
default values for command flags. CLI flags and BEACON_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, storage.postgres_dsn,
  api.listen,
  auth.issuer, auth.hmac_secret, auth.public_key_path,
  keys.encryption_key,
  flags.url, flags.api_key,
  events.brokers, events.topic,
  sync.page_size, sync.workers,
  billing.webhook_secret

Use subcommands to get, set, or list configuration values:
  beacon config set <key> <value>    Set a configuration value
  beacon config get <key>            Get a configuration value
  beacon config list                 List all configuration values

Examples:
  beacon config set storage.driver postgres
  beacon config set api.listen :9090
  beacon config get events.brokers
  beacon config list`

const configShortDesc string = "Manage persistent beacon configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
