// Package testing holds helpers for browser end-to-end tests. They drive a
// chromedp headless-shell container against an in-process test server.
package testing

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

const dockerImage = "chromedp/headless-shell:latest"

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (port int, err error) {
	var a *net.TCPAddr
	if a, err = net.ResolveTCPAddr("tcp", "localhost:0"); err == nil {
		var l *net.TCPListener
		if l, err = net.ListenTCP("tcp", a); err == nil {
			defer l.Close()
			return l.Addr().(*net.TCPAddr).Port, nil
		}
	}
	return
}

// GetChromeTestURL returns the URL for Chrome (in Docker) to access the test
// server. Linux uses host networking, macOS/Windows go through
// host.docker.internal.
func GetChromeTestURL(port int) string {
	portStr := fmt.Sprintf("%d", port)
	if runtime.GOOS == "linux" {
		return "http://localhost:" + portStr
	}
	return "http://host.docker.internal:" + portStr
}

// StartDockerChrome starts the chromedp headless-shell Docker container.
func StartDockerChrome(t *testing.T, debugPort int) *exec.Cmd {
	t.Helper()

	if err := exec.Command("docker", "version").Run(); err != nil {
		t.Skip("Docker not available, skipping E2E test")
	}

	checkCmd := exec.Command("docker", "image", "inspect", dockerImage)
	if err := checkCmd.Run(); err != nil {
		t.Log("Pulling chromedp/headless-shell Docker image...")
		pullCmd := exec.Command("docker", "pull", dockerImage)
		if err := pullCmd.Start(); err != nil {
			t.Fatalf("Failed to start docker pull: %v", err)
		}

		pullDone := make(chan error, 1)
		go func() {
			pullDone <- pullCmd.Wait()
		}()

		select {
		case err := <-pullDone:
			if err != nil {
				t.Fatalf("Failed to pull Docker image: %v", err)
			}
			t.Log("✅ Docker image pulled successfully")
		case <-time.After(60 * time.Second):
			pullCmd.Process.Kill()
			t.Fatal("Docker pull timed out after 60 seconds")
		}
	} else {
		t.Log("✅ Docker image already exists, skipping pull")
	}

	t.Log("Starting Chrome headless Docker container...")
	var cmd *exec.Cmd
	portMapping := fmt.Sprintf("%d:9222", debugPort)
	containerName := fmt.Sprintf("chrome-e2e-test-%d", debugPort) // Unique name per test

	if runtime.GOOS == "linux" {
		// Host networking lets the container reach localhost.
		cmd = exec.Command("docker", "run", "--rm",
			"--network", "host",
			"--name", containerName,
			dockerImage,
		)
	} else {
		cmd = exec.Command("docker", "run", "--rm",
			"-p", portMapping,
			"--name", containerName,
			"--add-host", "host.docker.internal:host-gateway",
			dockerImage,
		)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start Chrome Docker container: %v", err)
	}

	t.Log("Waiting for Chrome to be ready...")
	chromeURL := fmt.Sprintf("http://localhost:%d/json/version", debugPort)
	ready := false
	for i := 0; i < 60; i++ {
		resp, err := http.Get(chromeURL)
		if err == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if !ready {
		cmd.Process.Kill()
		t.Fatal("Chrome failed to start within 30 seconds")
	}

	t.Log("✅ Chrome headless Docker container ready")
	return cmd
}

// StopDockerChrome stops the Chrome Docker container.
func StopDockerChrome(t *testing.T, cmd *exec.Cmd, debugPort int) {
	t.Helper()
	t.Log("Stopping Chrome Docker container...")

	containerName := fmt.Sprintf("chrome-e2e-test-%d", debugPort)

	filterName := fmt.Sprintf("name=%s", containerName)
	checkCmd := exec.Command("docker", "ps", "-a", "-q", "-f", filterName)
	output, _ := checkCmd.Output()

	if len(output) > 0 {
		stopCmd := exec.Command("docker", "stop", "-t", "2", containerName)
		stopDone := make(chan error, 1)
		go func() {
			stopDone <- stopCmd.Run()
		}()

		select {
		case err := <-stopDone:
			if err != nil {
				t.Logf("Warning: Failed to stop Docker container: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Logf("Warning: docker stop timed out, forcing kill")
			exec.Command("docker", "kill", containerName).Run()
		}
	}

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// WaitForRegionsDone waits until the page script has applied every streamed
// region update. The script sets data-assr-done on the document element after
// receiving the done message, which makes this a reliable end-of-stream
// signal.
func WaitForRegionsDone(timeout time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		startTime := time.Now()
		for {
			var done bool
			err := chromedp.Evaluate(
				`document.documentElement.hasAttribute("data-assr-done")`,
				&done,
			).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to check stream state: %w", err)
			}
			if done {
				return nil
			}
			if time.Since(startTime) > timeout {
				return fmt.Errorf("timeout waiting for region stream to finish (data-assr-done not set after %v)", timeout)
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

// RegionHTML reads the innerHTML of the streamed region with the given id.
func RegionHTML(regionID string, out *string) chromedp.Action {
	sel := fmt.Sprintf(`[data-assr=%q]`, regionID)
	return chromedp.InnerHTML(sel, out, chromedp.ByQuery)
}
