package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-chatadmin-client/adminapi"
	"github.com/jrsteele09/go-chatadmin-client/gateway"
	"github.com/jrsteele09/go-chatadmin-client/internal/config"
	"github.com/jrsteele09/go-chatadmin-client/internal/utils"
	"github.com/jrsteele09/go-chatadmin-client/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	profilePath := flag.String("profile", "", "path to a YAML profile file")
	verbose := flag.Bool("v", false, "verbose request logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.New()
	if *profilePath != "" {
		profile, err := config.LoadProfile(*profilePath)
		if err != nil {
			return err
		}
		cfg = config.NewWithProfile(profile)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	args := flag.Args()
	if len(args) == 0 {
		displayAppname(cfg.GetAppName())
		usage()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return app.dispatch(ctx, args[0], args[1:])
}

// app wires the session, gateway, and endpoint services together: the
// composition root of the client.
type app struct {
	session   *session.Manager
	auth      *adminapi.AuthService
	clients   *adminapi.ClientService
	usage     *adminapi.UsageService
	documents *adminapi.DocumentService
	personas  *adminapi.PersonaService
}

func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create cookie jar")
	}

	sess, err := session.NewManager(cfg.GetBaseURL(),
		session.WithStore(session.NewFileStore(cfg.GetSessionFile())),
		session.WithCookieJar(jar),
		session.WithLogger(logger),
		session.WithExpiredHandler(func(attemptedRoute string) {
			fmt.Fprintf(os.Stderr, "Session expired while calling %s. Run `chatadmin login` and retry.\n", attemptedRoute)
		}),
	)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(cfg.GetBaseURL(), sess,
		gateway.WithHTTPClient(&http.Client{Jar: jar}),
		gateway.WithDefaultTimeout(cfg.GetRequestTimeout()),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &app{
		session:   sess,
		auth:      adminapi.NewAuthService(gw, sess, logger),
		clients:   adminapi.NewClientService(gw),
		usage:     adminapi.NewUsageService(gw),
		documents: adminapi.NewDocumentService(gw),
		personas:  adminapi.NewPersonaService(gw),
	}, nil
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.auth.Logout(ctx)
	case "whoami":
		return a.whoami()
	case "clients":
		return a.clientsCommand(ctx, args)
	case "usage":
		return a.showUsage(ctx, args)
	case "personas":
		return a.listPersonas(ctx)
	case "upload":
		return a.upload(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errors.New("login requires -username and -password")
	}

	result, err := a.auth.Login(ctx, adminapi.Credentials{Username: *username, Password: *password})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("login failed: %s", result.Error)
	}
	fmt.Printf("Logged in as %s (%s)\n", result.User.Username, result.User.Role)
	if route := a.session.AttemptedRoute(); route != "" {
		fmt.Printf("You were interrupted while calling %s\n", route)
	}
	return nil
}

func (a *app) whoami() error {
	if !a.session.IsAuthenticated() {
		fmt.Println("Not logged in")
		return nil
	}
	user := a.session.User()
	fmt.Printf("%s <%s> role=%s client=%s\n", user.Username, user.Email, user.Role, user.ClientID)
	return nil
}

func (a *app) clientsCommand(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "update" {
		return a.updateClient(ctx, args[1:])
	}
	return a.listClients(ctx, args)
}

func (a *app) updateClient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clients update", flag.ExitOnError)
	name := fs.String("name", "", "new display name")
	plan := fs.String("plan", "", "new plan")
	active := fs.Bool("active", false, "activate or deactivate the client")
	quota := fs.Int64("quota", 0, "new token quota")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("clients update requires exactly one client id")
	}

	// Only flags the operator actually set go into the patch, so other
	// fields keep their server-side values.
	var update adminapi.ClientUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			update.Name = utils.Ptr(*name)
		case "plan":
			update.Plan = utils.Ptr(*plan)
		case "active":
			update.Active = utils.Ptr(*active)
		case "quota":
			update.TokenQuota = utils.Ptr(*quota)
		}
	})

	client, err := a.clients.Update(ctx, fs.Arg(0), update)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s (%s)\n", client.ID, client.Name)
	return nil
}

func (a *app) listClients(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clients", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	search := fs.String("search", "", "search filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := a.clients.List(ctx, adminapi.ListParams{Page: *page, PerPage: 25, Search: *search})
	if err != nil {
		return err
	}
	for _, c := range result.Items {
		status := "inactive"
		if c.Active {
			status = "active"
		}
		fmt.Printf("%-24s %-32s %-10s %12d/%d tokens\n", c.ID, c.Name, status, c.TokensUsed, c.TokenQuota)
	}
	fmt.Printf("Page %d of %d (%d clients)\n", result.Page, result.TotalPages, result.Total)
	return nil
}

func (a *app) showUsage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	series := fs.Bool("series", false, "show per-period usage buckets")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *series {
		points, err := a.usage.Series(ctx, adminapi.UsageRange{})
		if err != nil {
			return err
		}
		for _, p := range points {
			fmt.Printf("%-12s %12d tokens %8d requests\n", p.Period, p.TokensUsed, p.Requests)
		}
		return nil
	}

	summary, err := a.usage.Summary(ctx, adminapi.UsageRange{})
	if err != nil {
		return err
	}
	fmt.Printf("Tokens: %d/%d (%.1f%%)\nConversations: %d\nDocuments: %d\n",
		summary.TokensUsed, summary.TokenQuota, summary.QuotaUsedPct, summary.Conversations, summary.Documents)
	return nil
}

func (a *app) listPersonas(ctx context.Context) error {
	result, err := a.personas.List(ctx, adminapi.ListParams{})
	if err != nil {
		return err
	}
	for _, p := range result.Items {
		marker := " "
		if p.Default {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s\n", marker, p.ID, p.Name)
	}
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("upload requires exactly one file path")
	}

	file, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "open upload file")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat upload file")
	}

	doc, err := a.documents.Upload(ctx, adminapi.UploadInput{
		FileName: info.Name(),
		Reader:   file,
		Size:     info.Size(),
		OnProgress: func(sent, total int64) {
			fmt.Fprintf(os.Stderr, "\rUploading %d/%d bytes", sent, total)
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded %s as %s, waiting for OCR...\n", doc.FileName, doc.ID)
	done, err := a.documents.WaitForOCR(ctx, doc.ID)
	if err != nil {
		return err
	}
	fmt.Println(done.OCRText)
	return nil
}

func usage() {
	fmt.Println(`Usage: chatadmin [-profile file] [-v] <command>

Commands:
  login -username <u> -password <p>   authenticate and store the session
  logout                              end the session
  whoami                              show the current identity
  clients [-page n] [-search s]       list tenant clients
  clients update [flags] <id>         patch a client (-name, -plan, -active, -quota)
  usage [-series]                     show token usage summary or per-period buckets
  personas                            list chatbot personas
  upload <file>                       upload a document and wait for OCR`)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
