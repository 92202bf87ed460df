package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCronSchedule verifies that expr parses and reports its next tick.
func CheckCronSchedule(name, expr string) Result {
	if !gronx.IsValid(expr) {
		return Result{Name: name, Detail: fmt.Sprintf("%q is not a valid cron expression", expr)}
	}
	next, err := gronx.NextTick(expr, false)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%q: %v", expr, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (next run %s)", expr, next.Format(time.RFC3339))}
}

// CheckAPIExposure warns when the API listens beyond loopback without a token.
func CheckAPIExposure(bind, token string) Result {
	const name = "API exposure"

	host, _, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid bind address %q", bind)}
	}
	if strings.TrimSpace(token) != "" {
		return Result{Name: name, Passed: true, Detail: "bearer token required"}
	}
	if isLoopback(host) {
		return Result{Name: name, Passed: true, Detail: "loopback only, no token"}
	}
	return Result{Name: name, Optional: true, Detail: fmt.Sprintf("%s reachable without a token", bind)}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// CheckDaemonAPI verifies that a daemon answers on baseURL and accepts token.
func CheckDaemonAPI(ctx context.Context, baseURL, token string) Result {
	const name = "Daemon API"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Optional: true, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("status check failed (%v)", err)}
	}
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: "not running"}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var status struct {
			PID int `json:"pid"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err == nil && status.PID > 0 {
			return Result{Name: name, Passed: true, Optional: true, Detail: fmt.Sprintf("reachable (pid %d)", status.PID)}
		}
		return Result{Name: name, Passed: true, Optional: true, Detail: "reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Optional: true, Detail: "auth failed (invalid api token)"}
	default:
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("status check failed (%d)", resp.StatusCode)}
	}
}
