package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"magpie/internal/archive"
	"magpie/internal/config"
	"magpie/internal/cursorcache"
	"magpie/internal/extractor"
	"magpie/internal/fetcher"
	"magpie/internal/fetchstate"
	"magpie/internal/metrics"
	"magpie/internal/model"
	"magpie/internal/theme"
	"magpie/internal/timeline"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "fetch":
		cmdFetch()
	case "range":
		cmdRange()
	case "fetchall":
		cmdFetchAll()
	case "status":
		cmdStatus()
	case "accounts":
		cmdAccounts()
	case "clean":
		cmdClean()
	case "export":
		cmdExport()
	case "import":
		cmdImport()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: magpie <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file at ./magpie.yaml")
	fmt.Println("  fetch       Fetch a subject's media timeline (resumable)")
	fmt.Println("  range       Single-shot fetch between two dates")
	fmt.Println("  fetchall    Refetch every archived subject, one at a time")
	fmt.Println("  status      Show whether a subject's fetch can be resumed")
	fmt.Println("  accounts    List archived accounts")
	fmt.Println("  clean       Drop incomplete fetch checkpoints")
	fmt.Println("  export      Export an archived snapshot to a JSON file")
	fmt.Println("  import      Import a snapshot JSON file into the archive")
}

func fatal(err error) {
	fmt.Println("error:", err)
	os.Exit(1)
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	return cfg
}

// buildRunner wires the fetch pipeline from config. The returned closer
// releases the archive and cache connections.
func buildRunner(cfg config.Config) (*fetcher.Runner, *archive.Store, func()) {
	db, err := archive.Open(cfg.Storage.DBPath)
	if err != nil {
		fatal(err)
	}
	var cursors cursorcache.Cache = cursorcache.Noop{}
	var closeCache func()
	if cfg.Cache.RedisAddr != "" {
		rc, err := cursorcache.NewRedis(cursorcache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			fmt.Println("warning: cursor cache unavailable:", err)
		} else {
			cursors = rc
			closeCache = func() { _ = rc.Close() }
		}
	}
	states := fetchstate.NewStore(fetchstate.NewFileBackend(cfg.Storage.StatePath))
	r := fetcher.NewRunner(extractor.NewHTTPClient(cfg.Extractor.BaseURL), states, dbArchiver{db}, cursors)
	r.BatchSize = cfg.Fetch.BatchSize
	r.SaveEvery = cfg.Fetch.SaveEvery
	r.Progress = func(s fetcher.Snapshot) {
		fmt.Printf("batch %d: +%d entries, %d total%s\n", s.Page, s.NewEntries, s.Response.TotalURLs, moreSuffix(s.HasMore))
	}
	metrics.StartServer(cfg.Metrics.Addr)
	closer := func() {
		_ = db.Close()
		if closeCache != nil {
			closeCache()
		}
	}
	return r, db, closer
}

func moreSuffix(hasMore bool) string {
	if hasMore {
		return ""
	}
	return " (done)"
}

// dbArchiver adapts the SQLite archive to the loop's best-effort interface.
type dbArchiver struct{ store *archive.Store }

func (a dbArchiver) Upsert(ctx context.Context, rec fetcher.ArchiveRecord) error {
	return a.store.Upsert(ctx, archive.Account{
		Username:     rec.Username,
		Name:         rec.Name,
		ProfileImage: rec.ProfileImage,
		TotalMedia:   rec.TotalMedia,
		ResponseJSON: rec.ResponseJSON,
		MediaType:    rec.MediaType,
		Cursor:       rec.Cursor,
		Completed:    rec.Completed,
	})
}

// stopCtx maps the first interrupt to a cooperative stop (checkpoint kept)
// and a second one to a hard cancel.
func stopCtx(r *fetcher.Runner) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("stopping after current batch (press again to abort)")
		r.Stop()
		<-sig
		cancel()
	}()
	return ctx, func() { signal.Stop(sig); cancel() }
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./magpie.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	if err := config.Save(*path, config.Default()); err != nil {
		fatal(err)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

func cmdFetch() {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	user := fs.String("user", "", "subject username (ignored for bookmarks)")
	kind := fs.String("type", model.TimelineDefault, "timeline, bookmarks, or likes")
	media := fs.String("media", "", "media filter: all, image, video, gif, text")
	retweets := fs.Bool("retweets", false, "include retweets")
	resume := fs.Bool("resume", false, "resume the saved checkpoint")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	r, _, closer := buildRunner(cfg)
	defer closer()
	ctx, done := stopCtx(r)
	defer done()

	mediaType := *media
	if mediaType == "" {
		mediaType = cfg.Fetch.MediaType
	}
	res, err := r.Run(ctx, fetcher.Options{
		Username:     *user,
		AuthToken:    cfg.Credentials.AuthToken,
		TimelineType: *kind,
		MediaType:    mediaType,
		Retweets:     *retweets || cfg.Fetch.Retweets,
		Resume:       *resume,
	})
	report(res, err)
}

func report(res fetcher.Result, err error) {
	if err != nil {
		if res.Total > 0 {
			fmt.Printf("failed after %d items (resume available): %v\n", res.Total, err)
		} else {
			fmt.Println("error:", err)
		}
		os.Exit(1)
	}
	switch res.Outcome {
	case fetcher.Stopped:
		fmt.Printf("stopped at %d items - run with -resume to continue\n", res.Total)
	default:
		fmt.Printf("found %d media items%s\n", res.Total, typeBreakdown(res.Response))
	}
}

func typeBreakdown(resp *model.Response) string {
	if resp == nil || len(resp.Timeline) == 0 {
		return ""
	}
	counts := timeline.CountByType(resp.Timeline)
	out := ""
	for _, kind := range []string{"photo", "video", "gif", "text"} {
		if n := counts[kind]; n > 0 {
			if out != "" {
				out += ", "
			}
			out += fmt.Sprintf("%s %d", kind, n)
		}
	}
	if out == "" {
		return ""
	}
	return " (" + out + ")"
}

func cmdRange() {
	fs := flag.NewFlagSet("range", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	user := fs.String("user", "", "subject username")
	start := fs.String("start", "", "start date YYYY-MM-DD")
	end := fs.String("end", "", "end date YYYY-MM-DD")
	media := fs.String("media", "", "media filter")
	retweets := fs.Bool("retweets", false, "include retweets")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	r, _, closer := buildRunner(cfg)
	defer closer()

	resp, err := r.Range(context.Background(), fetcher.RangeOptions{
		Username:  *user,
		AuthToken: cfg.Credentials.AuthToken,
		StartDate: *start,
		EndDate:   *end,
		MediaType: *media,
		Retweets:  *retweets,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("found %d media items between %s and %s\n", resp.TotalURLs, *start, *end)
}

func cmdFetchAll() {
	fs := flag.NewFlagSet("fetchall", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	r, db, closer := buildRunner(cfg)
	defer closer()
	ctx, done := stopCtx(r)
	defer done()

	items, err := db.List(ctx)
	if err != nil {
		fatal(err)
	}
	var subjects []fetcher.BulkSubject
	for _, it := range items {
		kind := model.TimelineDefault
		if it.Username == model.BookmarksSubject {
			kind = model.TimelineBookmarks
		} else if it.Username == model.LikesSubject {
			kind = model.TimelineLikes
		}
		subjects = append(subjects, fetcher.BulkSubject{Username: it.Username, TimelineType: kind, MediaType: it.MediaType})
	}
	results := r.FetchAll(ctx, subjects, cfg.Credentials.AuthToken)
	for _, br := range results {
		if br.Err != nil {
			fmt.Printf("@%s: error: %v\n", br.Subject, br.Err)
			continue
		}
		fmt.Printf("@%s: %s, %d items\n", br.Subject, br.Result.Outcome, br.Result.Total)
	}
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	user := fs.String("user", "", "subject username")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	states := fetchstate.NewStore(fetchstate.NewFileBackend(cfg.Storage.StatePath))
	if *user == "" {
		for key, st := range states.All() {
			fmt.Printf("%s: %d items, completed=%v, cursor=%q\n", key, len(st.Timeline), st.Completed, st.Cursor)
		}
		return
	}
	// HasResumable also requires accumulated entries, so an empty checkpoint
	// is not offered as a resume.
	key := model.SubjectKey(*user, model.TimelineDefault)
	if !states.HasResumable(key) {
		fmt.Println("nothing to resume")
		return
	}
	info := states.ResumableInfo(key)
	fmt.Printf("resumable: %d items, last updated %s\n", info.MediaCount, info.LastUpdated.Format("2006-01-02 15:04"))

	// The cursor cache is written every batch, so it can be ahead of the
	// last full checkpoint.
	if cfg.Cache.RedisAddr != "" {
		rc, err := cursorcache.NewRedis(cursorcache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err == nil {
			if cursor, ok := rc.GetCursor(key); ok {
				fmt.Printf("latest cursor checkpoint: %q\n", cursor)
			}
			_ = rc.Close()
		}
	}
}

func cmdAccounts() {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	db, err := archive.Open(cfg.Storage.DBPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()
	items, err := db.List(context.Background())
	if err != nil {
		fatal(err)
	}
	for _, it := range items {
		status := "complete"
		if !it.Completed {
			status = "partial"
		}
		fmt.Printf("%4d  @%-20s %6d media  %s  %s (%s)\n", it.ID, it.Username, it.TotalMedia, it.LastFetched, status, it.MediaType)
	}
}

func cmdClean() {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	states := fetchstate.NewStore(fetchstate.NewFileBackend(cfg.Storage.StatePath))
	states.ClearAllIncomplete()
	fmt.Println("incomplete fetch checkpoints cleared")
}

func cmdExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	id := fs.Int64("id", 0, "account id (see accounts)")
	out := fs.String("out", ".", "output directory")
	_ = fs.Parse(os.Args[2:])

	cfg := loadConfig(*cfgPath)
	db, err := archive.Open(cfg.Storage.DBPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()
	path, err := db.ExportJSON(context.Background(), *id, *out)
	if err != nil {
		fatal(err)
	}
	fmt.Println("exported to:", path)
}

func cmdImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := fs.String("config", "./magpie.yaml", "config path")
	file := fs.String("file", "", "snapshot JSON file")
	_ = fs.Parse(os.Args[2:])
	if *file == "" {
		fatal(errors.New("-file is required"))
	}

	cfg := loadConfig(*cfgPath)
	db, err := archive.Open(cfg.Storage.DBPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()
	username, err := db.ImportJSON(context.Background(), *file)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("imported @%s\n", username)
}
