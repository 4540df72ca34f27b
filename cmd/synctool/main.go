// synctool drives the local receipt store and its sync cycle from the
// command line: register/login against the server, add receipts offline,
// and run sync, pull, full, or status.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/momscoder/expensesmanager/internal/client/api"
	"github.com/momscoder/expensesmanager/internal/client/store"
	"github.com/momscoder/expensesmanager/internal/config"
	"github.com/momscoder/expensesmanager/internal/domain"
	"github.com/momscoder/expensesmanager/internal/syncer"
)

var (
	email    string
	password string
	date     string
	uid      string
	items    string
	verbose  bool
)

func init() {
	flag.StringVar(&email, "email", "", "Account email (register/login)")
	flag.StringVar(&password, "password", "", "Account password (register/login)")
	flag.StringVar(&date, "date", time.Now().Format(domain.DateLayout), "Receipt date (add)")
	flag.StringVar(&uid, "uid", "", "Fiscal receipt uid (add, optional)")
	flag.StringVar(&items, "items", "", "Purchases as name:amount[:category],... (add)")
	flag.BoolVar(&verbose, "v", false, "Debug logging")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: synctool [flags] <command>

Commands:
  register   create an account and store the token
  login      authenticate and store the token
  add        add a receipt to the local store
  list       list local receipts
  sync       upload local changes
  pull       replace local data with the server snapshot
  full       sync then pull
  status     show unsynced count and connectivity

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal(err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		log.Fatalf("Open local store: %v", err)
	}
	defer db.Close()

	tokens := &fileToken{path: tokenPath(cfg.DBPath)}
	transport := api.NewClient(cfg.BaseURL, cfg.RequestTimeout, tokens, logger)
	coord := syncer.New(db, transport, tokens, logger)

	switch cmd {
	case "register", "login":
		runAuth(ctx, cmd, transport, tokens)
	case "add":
		runAdd(ctx, db)
	case "list":
		runList(ctx, db)
	case "sync":
		res, err := coord.SyncToServer(ctx)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		if res.NoOp() {
			fmt.Println("Nothing to sync.")
			return
		}
		fmt.Printf("Synced %d receipts (%d created, %d updated), %d purchases, %d categories.\n",
			res.ReceiptsSent, res.Created, res.Updated, res.PurchasesSent, res.CategoriesSent)
	case "pull":
		res, err := coord.PullFromServer(ctx)
		if err != nil {
			log.Fatalf("Pull failed: %v", err)
		}
		fmt.Printf("Pulled %d receipts, %d purchases, %d categories.\n",
			res.Receipts, res.Purchases, res.Categories)
	case "full":
		syncRes, pullRes, err := coord.FullSync(ctx)
		if err != nil {
			log.Fatalf("Full sync failed: %v", err)
		}
		fmt.Printf("Uploaded %d receipts, pulled %d receipts.\n",
			syncRes.ReceiptsSent, pullRes.Receipts)
	case "status":
		st, err := coord.Status(ctx)
		if err != nil {
			log.Fatalf("Status failed: %v", err)
		}
		fmt.Printf("Unsynced: %d | Authenticated: %t | Online: %t | Syncing: %t\n",
			st.UnsyncedCount, st.Authenticated, st.Online, st.Syncing)
	default:
		usage()
		os.Exit(2)
	}
}

func runAuth(ctx context.Context, cmd string, transport *api.Client, tokens *fileToken) {
	if email == "" || password == "" {
		log.Fatal("-email and -password are required")
	}
	var (
		token string
		err   error
	)
	if cmd == "register" {
		token, err = transport.Register(ctx, email, password)
	} else {
		token, err = transport.Login(ctx, email, password)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
	if err := tokens.Save(token); err != nil {
		log.Fatalf("Store token: %v", err)
	}
	fmt.Println("Authenticated.")
}

func runAdd(ctx context.Context, db *store.Store) {
	if items == "" {
		log.Fatal("-items is required, e.g. -items \"Milk:1.20:Groceries,Bread:0.90\"")
	}
	rec := store.NewReceipt{Date: date}
	if uid != "" {
		rec.UID = &uid
	}
	for _, raw := range strings.Split(items, ",") {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 {
			log.Fatalf("Bad item %q, want name:amount[:category]", raw)
		}
		amount, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			log.Fatalf("Bad amount in %q: %v", raw, err)
		}
		p := domain.Purchase{Name: parts[0], Amount: amount}
		if len(parts) == 3 && parts[2] != "" {
			category := parts[2]
			p.Category = &category
		}
		rec.Purchases = append(rec.Purchases, p)
	}

	r, err := db.AddReceipt(ctx, rec)
	if err != nil {
		log.Fatalf("Add receipt: %v", err)
	}
	fmt.Printf("Added receipt %d (%s), total %.2f.\n", r.ID.Int64(), r.Date, r.TotalAmount)
}

func runList(ctx context.Context, db *store.Store) {
	receipts, err := db.ListReceipts(ctx)
	if err != nil {
		log.Fatalf("List receipts: %v", err)
	}
	for _, r := range receipts {
		marker := " "
		if r.ID.IsLocal() {
			marker = "*"
		}
		fmt.Printf("%s %8d  %s  %8.2f  (%d items)\n",
			marker, r.ID.Int64(), r.Date, r.TotalAmount, len(r.Purchases))
	}
	fmt.Printf("%d receipts; * = not yet synced\n", len(receipts))
}

// fileToken keeps the bearer token next to the database file so repeated
// invocations stay authenticated.
type fileToken struct {
	path string
}

func tokenPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), ".sync_token")
}

func (f *fileToken) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (f *fileToken) Save(token string) error {
	return os.WriteFile(f.path, []byte(token), 0o600)
}
