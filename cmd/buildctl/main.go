// Command buildctl builds one Streams application from the command line and
// optionally downloads or submits the result.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/notify"
	"github.com/lei/streams-build/internal/service"
	"github.com/lei/streams-build/internal/state"
	"github.com/lei/streams-build/pkg/gateway"
)

const pollInterval = time.Second

type options struct {
	configFile    string
	appRoot       string
	fqn           string
	makefile      string
	toolkitRoot   string
	sourceArchive string
	instance      string
	download      bool
	submit        bool
	wait          time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", os.Getenv("STREAMS_CONFIG"), "path to a YAML or TOML config file")
	flag.StringVar(&opts.appRoot, "app-root", ".", "application root directory")
	flag.StringVar(&opts.fqn, "fqn", "", "fully qualified name of the main composite")
	flag.StringVar(&opts.makefile, "makefile", "", "makefile to build instead of a main composite")
	flag.StringVar(&opts.toolkitRoot, "toolkit-root", "", "toolkit root path")
	flag.StringVar(&opts.sourceArchive, "archive", "", "prepared source archive to upload")
	flag.StringVar(&opts.instance, "instance", "", "instance to select after a platform login")
	flag.BoolVar(&opts.download, "download", false, "download the application bundles when the build succeeds")
	flag.BoolVar(&opts.submit, "submit", false, "submit the application bundles when the build succeeds")
	flag.DurationVar(&opts.wait, "wait", 30*time.Minute, "how long to follow the build")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "buildctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	gw, err := gateway.NewFromEnv(opts.configFile)
	if err != nil {
		return err
	}
	stop := gw.Activate(ctx)
	defer func() {
		if err := stop(); err != nil {
			fmt.Fprintf(os.Stderr, "buildctl: shutdown: %v\n", err)
		}
	}()

	events, unsubscribe := gw.Events().Subscribe()
	defer unsubscribe()
	go printEvents(os.Stderr, events)

	svc := gw.Service()
	if err := login(ctx, svc, gw.Config().Platform, opts); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.wait)
	defer cancel()

	accepted, err := svc.NewBuild(ctx, service.NewBuildRequest{
		AppRoot:         opts.appRoot,
		ToolkitRootPath: opts.toolkitRoot,
		FQN:             opts.fqn,
		MakefilePath:    opts.makefile,
		SourceArchive:   opts.sourceArchive,
	})
	if err != nil {
		return fmt.Errorf("new build: %w", err)
	}
	if accepted.Queued {
		return errors.New("new build: no authenticated instance")
	}
	fmt.Printf("build %s created\n", accepted.ID)

	b, err := follow(ctx, svc, accepted.ID)
	if err != nil {
		return err
	}
	if b.Status == models.BuildFailed {
		for _, m := range b.LogMessages {
			fmt.Println(m)
		}
		return fmt.Errorf("build %s failed", b.ID)
	}
	fmt.Printf("build %s built, %d artifact(s)\n", b.ID, len(b.Artifacts))

	if opts.download {
		files, err := svc.DownloadArtifacts(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		for _, f := range files {
			fmt.Println(f)
		}
	}
	if opts.submit {
		return submit(ctx, svc, b.ID)
	}
	return nil
}

func login(ctx context.Context, svc *service.Service, platform gateway.PlatformConfig, opts options) error {
	if state.HasAuthenticatedInstance(svc.State(ctx)) {
		return nil
	}

	username := platform.Username
	if username == "" {
		u, err := readLine("Username: ")
		if err != nil {
			return err
		}
		username = u
	}
	password := platform.Password
	if password == "" {
		p, err := readPassword("Password: ")
		if err != nil {
			return err
		}
		password = p
	}

	res, err := svc.Login(ctx, service.LoginRequest{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if res.Step == action.LoginStepAuthenticated {
		return nil
	}

	name := opts.instance
	if name == "" {
		name = platform.InstanceName
	}
	if name == "" {
		if len(res.Instances) == 0 {
			return errors.New("login: no Streams instances available")
		}
		name = res.Instances[0].DisplayName
	}
	sel, err := svc.SelectInstance(ctx, name)
	if err != nil {
		return fmt.Errorf("select instance %s: %w", name, err)
	}
	fmt.Printf("using instance %s\n", sel.Name)
	return nil
}

// follow polls the build until the build service stops working on it
func follow(ctx context.Context, svc *service.Service, buildID string) (*state.Build, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		b, err := svc.Build(ctx, buildID)
		if err != nil && !errors.Is(err, service.ErrBuildNotFound) {
			return nil, err
		}
		if b != nil && b.Status != "" && !b.Status.InProgress() {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("follow build %s: %w", buildID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func submit(ctx context.Context, svc *service.Service, buildID string) error {
	res, err := svc.SubmitBuild(ctx, buildID)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if !res.Submitted {
		values := make([]models.SubmitParameter, 0, len(res.Params))
		for _, p := range res.Params {
			prompt := p.Name
			if p.DefaultValue != "" {
				prompt += " [" + p.DefaultValue + "]"
			}
			v, err := readLine(prompt + ": ")
			if err != nil {
				return err
			}
			if v == "" {
				v = p.DefaultValue
			}
			values = append(values, models.SubmitParameter{Name: p.Name, Value: v})
		}
		if err := svc.ResolveParameters(ctx, res.WorkflowID, values); err != nil {
			return fmt.Errorf("submission parameters: %w", err)
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var pending, failed int
		var seen bool
		for _, sub := range svc.Submissions(ctx) {
			if sub.BuildID != buildID {
				continue
			}
			seen = true
			switch {
			case sub.Status.Incomplete():
				pending++
			case sub.Status != models.SubmissionJobSubmitted:
				failed++
			}
		}
		if seen && pending == 0 {
			if failed > 0 {
				return fmt.Errorf("%d submission(s) of build %s failed", failed, buildID)
			}
			fmt.Printf("build %s submitted\n", buildID)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("follow submissions of build %s: %w", buildID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printEvents(w io.Writer, events <-chan notify.Event) {
	for ev := range events {
		if ev.Detail != "" {
			fmt.Fprintf(w, "[%s] %s: %s\n", ev.Level, ev.Title, ev.Detail)
		} else {
			fmt.Fprintf(w, "[%s] %s\n", ev.Level, ev.Title)
		}
	}
}

var stdin = bufio.NewReader(os.Stdin)

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo when stdin is a terminal
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
