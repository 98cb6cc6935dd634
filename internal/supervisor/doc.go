// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package supervisor runs the gateway's long-running services under a suture v4
supervisor tree with automatic restart and graceful shutdown.

	RootSupervisor ("realmgate")
	├── MaintenanceSupervisor ("maintenance-layer")
	│   ├── session-sweeper
	│   └── storage-gc
	└── APISupervisor ("api-layer")
	    └── http-server

Supervisor events are logged through sutureslog.

	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	tree.AddMaintenanceService(services.NewSessionSweeper(store, cfg.Security.SessionCleanupInterval))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
