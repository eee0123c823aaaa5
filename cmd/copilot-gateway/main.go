// Command copilot-gateway runs the reverse proxy in front of GitHub
// Copilot's chat-completions API.
//
// It follows a two-process lifecycle: the parent process installs signal
// handlers and supervises a child process (itself, re-invoked with
// -serve-child) that actually binds the listener and serves traffic. This
// keeps the parent free to act on a termination signal (forwarding it to
// the child and enforcing the shutdown deadlines) even while the child is
// busy serving a slow upstream call, and mirrors the non-daemon child-process isolation this proxy's
// design is built around.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"copilot-gateway/internal/config"
	"copilot-gateway/internal/oauth"
	"copilot-gateway/internal/pool"
	"copilot-gateway/internal/proxyserver"
	"copilot-gateway/internal/recovery"
	"copilot-gateway/internal/stats"
)

func main() {
	serveChild := flag.Bool("serve-child", false, "internal: run as the supervised server child process")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	if *serveChild {
		runServer()
		return
	}
	runSupervisor()
}

// runServer is the child process entrypoint: it opens the credential pool,
// wires every collaborator, and serves HTTP until a termination signal
// arrives.
func runServer() {
	cfg := config.Load()

	p, err := pool.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open credential pool: %v", err)
	}
	defer p.Close()

	st := stats.New()
	oauthCtl := oauth.New(cfg, p)
	scanner := recovery.NewScanner(oauthCtl, p, 20)

	srv := proxyserver.New(cfg, p, st, oauthCtl, scanner)
	st.StartServer(cfg.Host, cfg.Port)

	httpServer := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("copilot-gateway: shutting down")
		st.StopServer()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	fmt.Printf("copilot-gateway listening on %s:%s\n", cfg.Host, cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Println("copilot-gateway: stopped")
}

// runSupervisor spawns the server child and forwards termination signals to
// it, waiting up to 5 seconds for an orderly exit before killing it and
// waiting up to 1 more second, matching the original stop-server contract.
func runSupervisor() {
	self, err := os.Executable()
	if err != nil {
		log.Fatalf("failed to resolve executable path: %v", err)
	}

	cmd := exec.Command(self, "-serve-child")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		log.Fatalf("failed to start server child: %v", err)
	}

	childExited := make(chan error, 1)
	go func() { childExited <- cmd.Wait() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("copilot-gateway: forwarding shutdown to server child")
		cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-childExited:
		case <-time.After(5 * time.Second):
			log.Println("copilot-gateway: server child did not exit in time, killing it")
			cmd.Process.Kill()
			select {
			case <-childExited:
			case <-time.After(1 * time.Second):
			}
		}
	case err := <-childExited:
		if err != nil {
			log.Fatalf("server child exited: %v", err)
		}
	}
}
