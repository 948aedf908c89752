package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fabianlopezdev/presence-sync/cmd/internal/appcli"
	"github.com/fabianlopezdev/presence-sync/internal/pocketbase"
	"github.com/fabianlopezdev/presence-sync/tripsync"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		return
	}

	cmd := os.Args[1]
	switch cmd {
	case "login":
		login()
	case "add":
		add()
	case "edit":
		edit()
	case "delete":
		deleteCmd()
	case "list":
		list()
	case "settings":
		settings()
	case "sync":
		syncCmd()
	case "resolve":
		resolve()
	case "device":
		device()
	default:
		usage()
	}
}

func login() {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	server := fs.String("server", os.Getenv("TRIPS_SERVER"), "sync server base URL")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	mustParse(os.Args[2:], fs)

	client := &pocketbase.HTTPClient{BaseURL: *server}
	res, err := client.AuthWithPassword(context.Background(), *email, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	fmt.Printf("export TRIPS_SERVER=%s\nexport TRIPS_TOKEN=%s\n", *server, res.Token)
}

func add() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	departure := fs.String("from", "", "departure date (YYYY-MM-DD)")
	ret := fs.String("to", "", "return date (YYYY-MM-DD)")
	location := fs.String("location", "", "destination")
	simulated := fs.Bool("simulated", false, "mark as a planning scenario")
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		id, err := app.AddTrip(ctx, *departure, *ret, *location, *simulated)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func edit() {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	id := fs.String("id", "", "trip id")
	departure := fs.String("from", "", "departure date (YYYY-MM-DD)")
	ret := fs.String("to", "", "return date (YYYY-MM-DD)")
	location := fs.String("location", "", "destination")
	simulated := fs.Bool("simulated", false, "mark as a planning scenario")
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		return app.UpdateTrip(ctx, *id, *departure, *ret, *location, *simulated)
	}); err != nil {
		log.Fatal(err)
	}
}

func deleteCmd() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	id := fs.String("id", "", "trip id")
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		return app.DeleteTrip(ctx, *id)
	}); err != nil {
		log.Fatal(err)
	}
}

func list() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	all := fs.Bool("all", false, "include deleted trips")
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		trips, err := app.ListTrips(ctx, *all)
		if err != nil {
			return err
		}
		for _, t := range trips {
			marker := ""
			if t.Deleted() {
				marker = " (deleted)"
			}
			fmt.Printf("%s  %s -> %s  %s%s\n", t.ID, t.DepartureDate, t.ReturnDate, t.Location, marker)
		}
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func settings() {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	theme := fs.String("theme", "", "ui theme")
	language := fs.String("language", "", "ui language")
	syncEnabled := fs.Bool("sync-enabled", true, "enable background sync")
	show := fs.Bool("show", false, "print current settings and exit")
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		if *show {
			current, err := app.Settings(ctx)
			if err != nil {
				return err
			}
			if current == nil {
				fmt.Println("no settings stored")
				return nil
			}
			fmt.Printf("theme=%s language=%s sync=%v\n", current.Theme, current.Language, current.SyncEnabled)
			return nil
		}
		return app.UpdateSettings(ctx, tripsync.Settings{
			Theme:        *theme,
			Language:     *language,
			SyncEnabled:  *syncEnabled,
			SyncDeviceID: app.DeviceID(),
		})
	}); err != nil {
		log.Fatal(err)
	}
}

func syncCmd() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	partial := fs.Bool("partial", false, "apply non-conflicting items when conflicts are found")
	force := fs.Bool("force", false, "overwrite server state with local edits")
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		report, err := app.Sync(ctx, appcli.SyncOptions{
			ApplyNonConflicting: *partial,
			ForceOverwrite:      *force,
		})
		if err != nil {
			return err
		}
		fmt.Printf("status=%s pulled=%d watermark=%d\n", report.Status, report.Pulled, report.Watermark)
		if report.Synced != nil {
			fmt.Printf("pushed trips=%d deletions=%d settings=%v\n",
				report.Synced.Trips, report.Synced.DeletedTrips, report.Synced.UserSettings)
		}
		for _, c := range report.Conflicts {
			fmt.Println(appcli.FormatConflict(c))
		}
		if len(report.Conflicts) > 0 {
			fmt.Println(`run "trips resolve -id <id> -use server|local" to settle the conflicts above`)
		}
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func resolve() {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	id := fs.String("id", "", "contested trip id, or \"settings\" (omit to list)")
	use := fs.String("use", "server", "which side wins: server or local")
	mustParse(os.Args[2:], fs)

	if *use != "server" && *use != "local" {
		log.Fatalf("resolve: -use must be server or local, got %q", *use)
	}

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		if *id == "" {
			conflicts, err := app.Conflicts(ctx)
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println("no pending conflicts")
				return nil
			}
			for _, c := range conflicts {
				fmt.Println(appcli.FormatConflict(c))
			}
			return nil
		}
		return app.Resolve(ctx, *id, *use == "local")
	}); err != nil {
		log.Fatal(err)
	}
}

func device() {
	fs := flag.NewFlagSet("device", flag.ExitOnError)
	cfg := appcli.FromEnv()
	cfg.BindFlags(fs)
	mustParse(os.Args[2:], fs)

	if err := runApp(cfg, func(ctx context.Context, app *appcli.App) error {
		fmt.Println(app.DeviceID())
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func runApp(cfg appcli.RuntimeConfig, fn func(context.Context, *appcli.App) error) (err error) {
	ctx := context.Background()
	app, err := appcli.NewApp(cfg.Options())
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(ctx, app); err != nil {
		return fmt.Errorf("trips: %w", err)
	}
	return nil
}

func mustParse(args []string, fs *flag.FlagSet) {
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "trips commands: login | add | edit | delete | list | settings | sync | resolve | device\n")
}
