// ABOUTME: Subcommands that talk to a running instance: health and scans
// ABOUTME: Uses the HTTP liveness endpoint, gRPC health service, and admin API

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/scanbot/internal/server"
)

// localAddr turns a listen address such as "0.0.0.0:8000" or ":8000" into
// one a client can dial.
func localAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	useGRPC := fs.Bool("grpc", false, "check the gRPC health service instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if *useGRPC {
		if cfg.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is not configured")
		}
		return checkGRPCHealth(ctx, localAddr(cfg.Server.GRPCAddr))
	}

	target := fmt.Sprintf("http://%s/health", localAddr(cfg.Server.HTTPAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func checkGRPCHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}

	fmt.Println("healthy")
	return nil
}

func runScans(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scans", flag.ContinueOnError)
	conversation := fs.String("conversation", "", "only scans for this conversation key")
	limit := fs.Int("limit", 20, "maximum scans to list")
	active := fs.Bool("active", false, "list running scans instead of history")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	base := fmt.Sprintf("http://%s", localAddr(cfg.Server.HTTPAddr))
	token := os.Getenv("SCANBOT_TOKEN")

	if *active {
		var body struct {
			Scans []server.ActiveScanResponse `json:"scans"`
		}
		if err := getAPI(ctx, base+"/api/scans/active", token, &body); err != nil {
			return err
		}
		printActive(os.Stdout, body.Scans)
		return nil
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *conversation != "" {
		q.Set("conversation", *conversation)
	}
	var body struct {
		Scans []server.ScanResponse `json:"scans"`
	}
	if err := getAPI(ctx, base+"/api/scans?"+q.Encode(), token, &body); err != nil {
		return err
	}
	printHistory(os.Stdout, body.Scans)
	return nil
}

func getAPI(ctx context.Context, endpoint, token string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("api error: %s", apiErr.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func phaseColor(phase string) func(format string, a ...any) string {
	switch phase {
	case "completed":
		return color.GreenString
	case "cancelled":
		return color.YellowString
	case "failed":
		return color.RedString
	default:
		return color.CyanString
	}
}

func printHistory(w io.Writer, scans []server.ScanResponse) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "no scans")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCONVERSATION\tPHASE\tPROGRESS\tREASON")
	for _, sc := range scans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			sc.StartedAt.Local().Format(time.DateTime),
			sc.Conversation,
			phaseColor(sc.Phase)("%s", sc.Phase),
			sc.Progress, sc.Steps,
			sc.Reason,
		)
	}
	_ = tw.Flush()
}

func printActive(w io.Writer, scans []server.ActiveScanResponse) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "no scans running")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCONVERSATION\tPROGRESS\tCANCELLING")
	for _, sc := range scans {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%t\n",
			sc.StartedAt.Local().Format(time.DateTime),
			sc.Conversation,
			sc.Progress, sc.Steps,
			sc.CancelRequested,
		)
	}
	_ = tw.Flush()
}
