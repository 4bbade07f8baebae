// Package gateway provides a reusable Streams build gateway library that can be embedded into other Go applications.
//
// # Overview
//
// The gateway drives the IBM Streams build service and the Streams instance
// REST API from an action engine. Logins, builds, bundle downloads and job
// submissions run as asynchronous workflows; the gateway exposes them
// through a REST API, an event stream and the Service type.
//
// # Basic Usage
//
// Create a gateway programmatically:
//
//	cfg := &gateway.Config{
//		Server: gateway.ServerConfig{
//			Port: 8080,
//		},
//		Auth: gateway.AuthConfig{
//			APIKeys: []gateway.APIKey{
//				{Name: "my-app", Key: "secret-key-here"},
//			},
//		},
//		Platform: gateway.PlatformConfig{
//			InstanceType: "cp4d",
//			URL:          "https://cpd.example.com",
//			InstanceName: "streams-1",
//			Username:     "admin",
//			Password:     "admin",
//		},
//		Logging: gateway.LoggingConfig{
//			Level:  "info",
//			Format: "json",
//		},
//	}
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := gw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Using with Existing HTTP Server
//
// The handler needs a running engine. Activate starts it without the
// gateway's own HTTP server:
//
//	stop := gw.Activate(ctx)
//	defer stop()
//
//	http.Handle("/streams/", http.StripPrefix("/streams", gw.Handler()))
//	http.ListenAndServe(":8080", nil)
//
// # Environment-based Configuration
//
// NewFromEnv reads a .env file, an optional YAML or TOML file and STREAMS_*
// variables:
//
//	gw, err := gateway.NewFromEnv("configs/gateway.yaml")
//
// # Direct Service Access
//
//	stop := gw.Activate(ctx)
//	defer stop()
//
//	svc := gw.Service()
//	if _, err := svc.Login(ctx, service.LoginRequest{Username: "admin", Password: "admin"}); err != nil {
//		log.Fatal(err)
//	}
//	if _, err := svc.SelectInstance(ctx, "streams-1"); err != nil {
//		log.Fatal(err)
//	}
//
//	accepted, err := svc.NewBuild(ctx, service.NewBuildRequest{
//		AppRoot: "/work/app",
//		FQN:     "sample::Main",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Build created: %s\n", accepted.ID)
package gateway
