// Package config loads the mailbox server's TOML configuration.
//
// Every section is optional; FixupAndValidate fills in defaults and rejects
// nonsense. Durations are Go duration strings ("90s", "11h").
//
//	[Server]
//	  Address = ":4000"
//	  Path = "/v1"
//	  MetricsAddress = "127.0.0.1:9090"
//	  MOTD = "be excellent to each other"
//
//	[Timeouts]
//	  NameplateIdle = "11h"
//	  MailboxIdle = "11h"
//	  PruneInterval = "1h"
//
//	[Logging]
//	  Level = "INFO"
//
//	[Usage]
//	  DBPath = "/var/lib/wormhole/usage.db"
//	  Retention = "720h"
package config
