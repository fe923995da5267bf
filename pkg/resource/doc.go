// Package resource supervises ordered collections of managed resources.
//
// A Supervisor gives all-or-nothing startup: if any resource fails to
// start, the ones already started are shut down in reverse order before
// the error reaches the caller. Shutdown is exhaustive: every started
// resource is shut down even when others fail, and each failure is
// reported to the alert sink.
//
//	sup := resource.NewSupervisor(resource.WithLogger(logger), resource.WithAlerts(sink))
//	sup.Add(db)
//	sup.Add(server)
//	if err := sup.StartupResources(ctx); err != nil {
//	    return err
//	}
//	defer sup.ShutdownResources(context.Background())
package resource
