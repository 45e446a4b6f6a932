package utils

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var QuitChan = make(chan os.Signal, 1)

// NotifyShutdown routes SIGINT and SIGTERM to QuitChan.
func NotifyShutdown() {
	signal.Notify(QuitChan, syscall.SIGINT, syscall.SIGTERM)
}

func Shutdown(reason string) {
	fmt.Fprintf(os.Stderr, "🚨 %s\n", reason)
	os.Exit(1)
}

// GracefulExit asks the serve loop to shut down as if it had received
// SIGTERM. It never blocks.
func GracefulExit(reason string) {
	fmt.Fprintf(os.Stderr, "🚨 %s\n", reason)
	select {
	case QuitChan <- syscall.SIGTERM:
	default:
	}
}
