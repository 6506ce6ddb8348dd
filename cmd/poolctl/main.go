// Command poolctl is the operator console for a running pool server.
//
//	poolctl [-server URL] [-token T | -email E -password P] <command> [args]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"parlay-pool/internal/engine"
	"parlay-pool/internal/model"
)

const usage = `commands:
  rounds                          list rounds
  round <id>                      show one round with odds
  reserve                         show reserve state
  pending                         list unanswered oracle requests
  create-round <home-away>...     create a round, one "Home-Away" pair per match
  seed <id> <per-match>           seed every match evenly
  lock <id>                       close betting
  request-outcomes <id>           ask the oracle for results
  manual-settle <id> <o1,o2,...>  settle with HOME/AWAY/DRAW/VOID per match
  finalize <id>                   distribute round revenue
  fund <amount>                   move tokens from your wallet into the reserve
`

func main() {
	server := flag.String("server", envOr("POOL_SERVER", "http://localhost:4000"), "pool server base URL")
	token := flag.String("token", os.Getenv("POOL_TOKEN"), "bearer token")
	email := flag.String("email", os.Getenv("OPERATOR_EMAIL"), "operator email, used when no token is given")
	password := flag.String("password", os.Getenv("OPERATOR_PASSWORD"), "operator password")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: poolctl [flags] <command> [args]\n\n")
		flag.PrintDefaults()
		fmt.Fprint(flag.CommandLine.Output(), "\n"+usage)
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c := newClient(*server, *token)
	if c.token == "" && *email != "" {
		if err := c.login(ctx, *email, *password); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if err := run(ctx, c, os.Stdout, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("bad arguments")

func run(ctx context.Context, c *client, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "rounds":
		var rounds []model.Round
		if err := c.do(ctx, "GET", "/api/rounds", nil, &rounds); err != nil {
			return err
		}
		return renderRounds(out, rounds)

	case "round":
		id, err := argID(args, 0)
		if err != nil {
			return err
		}
		var got struct {
			Round        model.Round `json:"round"`
			FullySettled bool        `json:"fully_settled"`
		}
		if err := c.do(ctx, "GET", "/api/rounds/"+id, nil, &got); err != nil {
			return err
		}
		var odds []model.Odds
		if got.Round.Seeded() {
			if err := c.do(ctx, "GET", "/api/rounds/"+id+"/odds", nil, &odds); err != nil {
				return err
			}
		}
		return renderRound(out, got.Round, odds, got.FullySettled)

	case "reserve":
		var st model.ReserveState
		if err := c.do(ctx, "GET", "/api/reserve", nil, &st); err != nil {
			return err
		}
		return renderReserve(out, st)

	case "pending":
		var reqs []model.OracleRequest
		if err := c.do(ctx, "GET", "/api/admin/oracle/pending", nil, &reqs); err != nil {
			return err
		}
		return renderRequests(out, reqs)

	case "create-round":
		if len(args) == 0 {
			return errUsage
		}
		specs := make([]engine.MatchSpec, len(args))
		for i, a := range args {
			home, away, ok := strings.Cut(a, "-")
			if !ok || home == "" || away == "" {
				return fmt.Errorf("%w: match %q is not Home-Away", errUsage, a)
			}
			specs[i] = engine.MatchSpec{HomeTeam: home, AwayTeam: away}
		}
		var r model.Round
		if err := c.do(ctx, "POST", "/api/admin/rounds", map[string]any{"matches": specs}, &r); err != nil {
			return err
		}
		fmt.Fprintf(out, "round %d created with %d matches\n", r.ID, len(r.Matches))
		return nil

	case "seed":
		id, err := argID(args, 0)
		if err != nil {
			return err
		}
		per, err := argInt(args, 1)
		if err != nil {
			return err
		}
		var r model.Round
		if err := c.do(ctx, "POST", "/api/admin/rounds/"+id+"/seed", map[string]any{"per_match": per}, &r); err != nil {
			return err
		}
		fmt.Fprintf(out, "round %d seeded with %d from %s\n", r.ID, r.ProtocolSeedAmount, r.SeedSource)
		return nil

	case "lock":
		return roundAction(ctx, c, out, args, "lock", "locked")

	case "request-outcomes":
		id, err := argID(args, 0)
		if err != nil {
			return err
		}
		var req model.OracleRequest
		if err := c.do(ctx, "POST", "/api/admin/rounds/"+id+"/request-outcomes", nil, &req); err != nil {
			return err
		}
		fmt.Fprintf(out, "request %s issued for round %d\n", req.ID, req.RoundID)
		return nil

	case "manual-settle":
		id, err := argID(args, 0)
		if err != nil {
			return err
		}
		if len(args) < 2 {
			return errUsage
		}
		var results []model.Outcome
		for _, s := range strings.Split(args[1], ",") {
			results = append(results, model.Outcome(strings.ToUpper(strings.TrimSpace(s))))
		}
		var r model.Round
		if err := c.do(ctx, "POST", "/api/admin/rounds/"+id+"/manual-settle", map[string]any{"results": results}, &r); err != nil {
			return err
		}
		fmt.Fprintf(out, "round %d is %s\n", r.ID, r.Status)
		return nil

	case "finalize":
		id, err := argID(args, 0)
		if err != nil {
			return err
		}
		var split engine.RevenueSplit
		if err := c.do(ctx, "POST", "/api/admin/rounds/"+id+"/finalize", nil, &split); err != nil {
			return err
		}
		return renderSplit(out, split)

	case "fund":
		amount, err := argInt(args, 0)
		if err != nil {
			return err
		}
		var st model.ReserveState
		if err := c.do(ctx, "POST", "/api/admin/reserve/fund", map[string]any{"amount": amount}, &st); err != nil {
			return err
		}
		return renderReserve(out, st)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func roundAction(ctx context.Context, c *client, out io.Writer, args []string, action, done string) error {
	id, err := argID(args, 0)
	if err != nil {
		return err
	}
	var r model.Round
	if err := c.do(ctx, "POST", "/api/admin/rounds/"+id+"/"+action, nil, &r); err != nil {
		return err
	}
	fmt.Fprintf(out, "round %d %s\n", r.ID, done)
	return nil
}

func argID(args []string, i int) (string, error) {
	n, err := argInt(args, i)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func argInt(args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, errUsage
	}
	n, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[i])
	}
	return n, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
