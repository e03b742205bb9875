package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/njoerd114/straysync/internal/imaging"
	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/store"
	syncp "github.com/njoerd114/straysync/internal/sync"
)

// --- sync --------------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(ctx context.Context, args []string, daemon bool) error {
	fs, common := newFlagSet("sync")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelInfo)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.log
	if !a.online && daemon {
		logger.Warn("starting without remote stores; reports will be pushed on a later run")
	}

	bootstrap := syncp.NewBootstrap(a.repos, a.store, logger, os.Stdout)
	if _, err := bootstrap.Run(ctx); err != nil {
		return fmt.Errorf("first-run bootstrap: %w", err)
	}

	engine := syncp.NewEngine(a.repos, a.cfg.PollInterval, logger)

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := engine.RunOnce(ctx)
		logger.Info("sync complete",
			"pushed", stats.Pushed,
			"push_failed", stats.PushFailed,
			"pulled", stats.Pulled,
			"skipped", stats.Skipped,
			"pull_errors", stats.PullErrors,
		)
		return err
	}

	logger.Info("daemon starting", "poll_interval", a.cfg.PollInterval)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runPull pulls remote reports into the local database without pushing.
func runPull(ctx context.Context, args []string) error {
	fs, common := newFlagSet("pull")
	kindFlag := fs.String("kind", "", "stray_animal or lost_pet (default: both)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kinds, err := parseKinds(*kindFlag)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, kind := range kinds {
		stats, err := a.repo(kind).Pull(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("pulling %s reports: %w", kind, err))
			continue
		}
		fmt.Printf("%-13s fetched %d, stored %d, unchanged %d, errors %d\n",
			kind, stats.Fetched, stats.Pulled, stats.Skipped, stats.Errors)
	}
	return errors.Join(errs...)
}

// --- report / edit / delete --------------------------------------------------

// reportFlags are the editable report fields.
type reportFlags struct {
	typ, name, colour, sex, appearance, location string
	microchip, contact, info                     string
	photo                                        string
	placeholder                                  bool
}

func addReportFlags(fs *flag.FlagSet) *reportFlags {
	f := &reportFlags{}
	fs.StringVar(&f.typ, "type", "", "animal type, e.g. Dog")
	fs.StringVar(&f.name, "name", "", "pet name (lost pets)")
	fs.StringVar(&f.colour, "colour", "", "colour")
	fs.StringVar(&f.sex, "sex", "", "sex")
	fs.StringVar(&f.appearance, "appearance", "", "appearance description")
	fs.StringVar(&f.location, "location", "", "sighting or last known location")
	fs.StringVar(&f.microchip, "microchip", "", "microchip id")
	fs.StringVar(&f.contact, "contact", "", "contact information")
	fs.StringVar(&f.info, "info", "", "additional information")
	fs.StringVar(&f.photo, "photo", "", "image file to attach")
	fs.BoolVar(&f.placeholder, "placeholder", false, "attach the placeholder image when no --photo is given")
	return f
}

// apply copies every field flag given on the command line onto r.
func (f *reportFlags) apply(fs *flag.FlagSet, r *model.Report) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "type":
			r.Type = f.typ
		case "name":
			r.Name = f.name
		case "colour":
			r.Colour = f.colour
		case "sex":
			r.Sex = f.sex
		case "appearance":
			r.Appearance = f.appearance
		case "location":
			r.Location = f.location
		case "microchip":
			r.MicrochipID = f.microchip
		case "contact":
			r.ContactInfo = f.contact
		case "info":
			r.AdditionalInfo = f.info
		}
	})
}

// attachPhoto downsamples the --photo file into the photo directory, or
// attaches the placeholder, and sets r.Photo. It is a no-op otherwise.
func (a *app) attachPhoto(f *reportFlags, r *model.Report) error {
	switch {
	case f.photo != "":
		path, err := imaging.Prepare(f.photo, a.cfg.PhotoDir, a.cfg.Image.MaxWidth, a.cfg.Image.MaxHeight, time.Now())
		if err != nil {
			return fmt.Errorf("preparing photo: %w", err)
		}
		r.Photo = model.LocalPhoto(path)
	case f.placeholder:
		path, err := imaging.DefaultImage(a.cfg.PhotoDir)
		if err != nil {
			return err
		}
		r.Photo = model.LocalPhoto(path)
	}
	return nil
}

// runReport files a new report owned by the signed-in user.
func runReport(ctx context.Context, args []string) error {
	fs, common := newFlagSet("report")
	kindFlag := fs.String("kind", "", "stray_animal or lost_pet (required)")
	fields := addReportFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	userID, err := a.requireUser()
	if err != nil {
		return err
	}

	draft := &model.Report{Kind: kind}
	fields.apply(fs, draft)

	// Check the fields before the photo is processed; Create stamps the
	// real id and time.
	probe := *draft
	probe.UniqueID, probe.ReportedAt = "draft", time.Now()
	if err := probe.Validate(); err != nil {
		return err
	}
	if err := a.attachPhoto(fields, draft); err != nil {
		return err
	}

	r, err := a.repo(kind).Create(ctx, draft, userID)
	if err != nil {
		return err
	}
	printSaved(ctx, a, r)
	return nil
}

// runEdit changes the given fields of an existing report.
func runEdit(ctx context.Context, args []string) error {
	fs, common := newFlagSet("edit")
	kindFlag := fs.String("kind", "", "stray_animal or lost_pet (required)")
	id := fs.Int64("id", 0, "local report id")
	uid := fs.String("uid", "", "report unique id")
	removePhoto := fs.Bool("remove-photo", false, "detach the current photo")
	fields := addReportFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := lookup(ctx, a.repo(kind), *id, *uid)
	if err != nil {
		return err
	}
	fields.apply(fs, r)
	if *removePhoto {
		r.Photo = model.NoPhoto
	}
	if err := a.attachPhoto(fields, r); err != nil {
		return err
	}

	if err := a.repo(kind).Edit(ctx, r); err != nil {
		return err
	}
	printSaved(ctx, a, r)
	return nil
}

// runDelete deletes a report locally and from the remote stores.
func runDelete(ctx context.Context, args []string) error {
	fs, common := newFlagSet("delete")
	kindFlag := fs.String("kind", "", "stray_animal or lost_pet (required)")
	id := fs.Int64("id", 0, "local report id")
	uid := fs.String("uid", "", "report unique id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := lookup(ctx, a.repo(kind), *id, *uid)
	if err != nil {
		return err
	}
	if err := a.repo(kind).Delete(ctx, r); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted %s report %d (%s)\n", kind, r.ID, r.Title())
	return nil
}

// lookup finds a report by local id or unique id.
func lookup(ctx context.Context, repo *syncp.Repository, id int64, uid string) (*model.Report, error) {
	var (
		r   *model.Report
		err error
	)
	switch {
	case id != 0:
		r, err = repo.Get(ctx, id)
	case uid != "":
		r, err = repo.GetByUniqueID(ctx, uid)
	default:
		return nil, errors.New("either --id or --uid is required")
	}
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%s report: %w", repo.Kind(), model.ErrNotFound)
	}
	return r, nil
}

// printSaved reports where the saved report stands after the push attempt.
func printSaved(ctx context.Context, a *app, r *model.Report) {
	saved, err := a.repo(r.Kind).GetByUniqueID(ctx, r.UniqueID)
	if err != nil || saved == nil {
		saved = r
	}
	state := "pending upload"
	if saved.Uploaded {
		state = "uploaded"
	}
	fmt.Printf("✓ Saved %s report %d (%s), %s\n", saved.Kind, saved.ID, saved.Title(), state)
	fmt.Printf("  uid: %s\n", saved.UniqueID)
}

// --- list ----------------------------------------------------------------------

// runList prints reports, optionally as a live view that refreshes on every
// local change until interrupted.
func runList(ctx context.Context, args []string) error {
	fs, common := newFlagSet("list")
	kindFlag := fs.String("kind", "", "stray_animal or lost_pet (default: both)")
	orderFlag := fs.String("order", "", "sort by type, colour, sex, date or name")
	typeFlag := fs.String("type", "", "only reports of this animal type")
	nameFlag := fs.String("name", "", "only lost pets with this name")
	microchip := fs.String("microchip", "", "find the report carrying this microchip id")
	watch := fs.Bool("watch", false, "keep printing as reports change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	kinds, err := parseKinds(*kindFlag)
	if err != nil {
		return err
	}
	order, err := store.ParseOrder(*orderFlag)
	if err != nil {
		return err
	}
	q := store.Query{Order: order, Type: *typeFlag, Name: *nameFlag}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	if *microchip != "" {
		for _, kind := range kinds {
			r, err := a.repo(kind).GetByMicrochipID(ctx, *microchip)
			if err != nil {
				return err
			}
			if r != nil {
				printReports(os.Stdout, []*model.Report{r})
				return nil
			}
		}
		return fmt.Errorf("microchip %s: %w", model.NormalizeMicrochipID(*microchip), model.ErrNotFound)
	}

	if !*watch {
		for _, kind := range kinds {
			if q.Name != "" && kind != model.KindLostPet {
				continue
			}
			reports, err := listReports(ctx, a, kind, q)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%d)\n", kind, len(reports))
			printReports(os.Stdout, reports)
		}
		return nil
	}

	if len(kinds) != 1 {
		return errors.New("--watch needs a single --kind")
	}
	repo := a.repo(kinds[0])

	var view <-chan []*model.Report
	if q == (store.Query{}) {
		view, err = repo.LoadAll(ctx) // also pulls in the background
	} else {
		view, err = repo.Watch(ctx, q)
	}
	if err != nil {
		return err
	}
	for reports := range view {
		fmt.Printf("\n--- %s %s (%d) ---\n", kinds[0], time.Now().Format(time.TimeOnly), len(reports))
		printReports(os.Stdout, reports)
	}
	return nil
}

// listReports runs q through the matching repository read.
func listReports(ctx context.Context, a *app, kind model.Kind, q store.Query) ([]*model.Report, error) {
	repo := a.repo(kind)
	switch {
	case q.Type != "" && q.Name == "" && q.Order == store.OrderNone:
		return repo.ListByType(ctx, q.Type)
	case q.Name != "" && q.Type == "" && q.Order == store.OrderNone:
		return repo.ListByName(ctx, q.Name)
	case q.Type == "" && q.Name == "":
		return repo.List(ctx, q.Order)
	default:
		return a.store.List(ctx, kind, q)
	}
}

func printReports(w io.Writer, reports []*model.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tREPORT\tSEX\tLOCATION\tREPORTED\tSTATE")
	for _, r := range reports {
		state := "pending"
		if r.Uploaded {
			state = "synced"
		}
		photo := ""
		if r.Photo.IsSet() {
			photo = " [photo]"
		}
		fmt.Fprintf(tw, "  %d\t%s%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Title(), photo, r.Sex, r.Location, r.ReportedAt.Format("2006-01-02 15:04"), state)
	}
	_ = tw.Flush()
}

func parseKinds(s string) ([]model.Kind, error) {
	if s == "" {
		return model.Kinds, nil
	}
	k, err := model.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []model.Kind{k}, nil
}

// --- account -----------------------------------------------------------------

// runSignIn signs in with a Firebase ID token, anonymously, or with email
// credentials (creating or linking the account).
func runSignIn(ctx context.Context, args []string) error {
	fs, common := newFlagSet("signin")
	idToken := fs.String("id-token", "", "Firebase ID token from a client sign-in")
	anonymous := fs.Bool("anonymous", false, "create an anonymous account")
	email := fs.String("email", "", "email for a new account, or to link the current anonymous one")
	password := fs.String("password", "", "password for --email")
	link := fs.Bool("link", false, "attach --email/--password to the current anonymous account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case *idToken != "":
		u, err := a.accounts.SignInWithIDToken(ctx, *idToken)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Signed in as %s (%s)\n", u.ID, u.Provider)
	case *anonymous:
		u, err := a.accounts.SignInAnonymously(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Signed in anonymously as %s\n", u.ID)
	case *email != "" && *link:
		u, err := a.accounts.LinkAccount(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Linked %s to account %s\n", u.Email, u.ID)
	case *email != "":
		u, err := a.accounts.SignUp(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Created account %s for %s\n", u.ID, u.Email)
	default:
		return errors.New("one of --id-token, --anonymous or --email is required")
	}
	return nil
}

// runSignOut forgets the session, optionally deleting the account.
func runSignOut(ctx context.Context, args []string) error {
	fs, common := newFlagSet("signout")
	deleteAccount := fs.Bool("delete-account", false, "also delete the account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, common, slog.LevelWarn)
	if err != nil {
		return err
	}
	defer a.Close()

	if *deleteAccount {
		if err := a.accounts.DeleteAccount(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Account deleted")
		return nil
	}
	if err := a.accounts.SignOut(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Signed out")
	return nil
}

// --- status ------------------------------------------------------------------

// runStatus prints configuration, database, and account state.
func runStatus(ctx context.Context, args []string) error {
	fs, common := newFlagSet("status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("straysync status")
	fmt.Println("────────────────")

	if _, err := os.Stat(common.configPath); err != nil {
		fmt.Printf("  Config:    not found (%s)\n", common.configPath)
		fmt.Println("  Run 'straysync setup' to create one.")
		return nil
	}

	a, err := openApp(ctx, common, slog.LevelError)
	if err != nil {
		fmt.Printf("  Config:    %s (invalid: %v)\n", common.configPath, err)
		return nil
	}
	defer a.Close()

	fmt.Printf("  Config:    %s ✓\n", common.configPath)
	fmt.Printf("  Reports:   %s\n", a.cfg.Documents.Backend)
	fmt.Printf("  Photos:    %s\n", a.cfg.Blobs.Backend)
	fmt.Printf("  Remote:    %s\n", map[bool]string{true: "reachable", false: "offline"}[a.online])
	fmt.Printf("  Poll:      %s\n", a.cfg.PollInterval)
	if info, err := os.Stat(a.cfg.DatabasePath); err == nil {
		fmt.Printf("  Database:  %s (%s)\n", a.cfg.DatabasePath, humanSize(info.Size()))
	}
	for _, r := range a.repos {
		total, pending, err := r.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  %-10s %d report(s), %d pending upload\n", shortKind(r.Kind())+":", total, pending)
	}
	if u := a.accounts.CurrentUser(); u != nil {
		kind := u.Provider
		if u.Anonymous {
			kind = "anonymous"
		}
		fmt.Printf("  Account:   %s (%s)\n", u.ID, kind)
	} else {
		fmt.Println("  Account:   signed out")
	}
	return nil
}

func shortKind(k model.Kind) string {
	if k == model.KindLostPet {
		return "Lost"
	}
	return "Strays"
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
