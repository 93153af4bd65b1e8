// Command posewatch connects to a running posemat gRPC publisher and prints
// the pose results it streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/visualiser"
)

var (
	addr            = flag.String("addr", "localhost:50051", "Address of the posemat gRPC publisher")
	labels          = flag.String("labels", "", "Comma-separated labels to show (default: all)")
	minConfidence   = flag.Float64("min-confidence", 0, "Hide results below this confidence (0..1)")
	includeRejected = flag.Bool("rejected", false, "Also show results rejected by the threshold")
	showGrid        = flag.Bool("grid", false, "Print the 8x6 sensor grid under each result")
)

// formatFrame renders one result line, optionally followed by the grid.
func formatFrame(f visualiser.Frame, grid bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d Pose: %s | Confidence: %.2f%%",
		f.Time.Format("15:04:05.000"), f.Seq, f.Label, f.Confidence*100)
	if f.Rejected {
		b.WriteString(" (rejected)")
	}
	b.WriteByte('\n')
	if grid {
		for r := 0; r < l2frames.Rows; r++ {
			for c := 0; c < l2frames.Cols; c++ {
				fmt.Fprintf(&b, "%5d", f.Reading.At(r, c))
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func splitLabels(s string) []string {
	var out []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// watch prints frames from c until the stream ends. A server shutdown or a
// cancelled ctx is a normal end.
func watch(ctx context.Context, c *visualiser.Client, req visualiser.WatchRequest, grid bool, w io.Writer) (int, error) {
	stream, err := c.Watch(ctx, req)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		if _, err := io.WriteString(w, formatFrame(f, grid)); err != nil {
			return n, err
		}
	}
}

func main() {
	flag.Parse()

	c, err := visualiser.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *addr, err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host, _ := os.Hostname()
	req := visualiser.WatchRequest{
		Client:          "posewatch@" + host,
		MinConfidence:   *minConfidence,
		Labels:          splitLabels(*labels),
		IncludeRejected: *includeRejected,
	}
	n, err := watch(ctx, c, req, *showGrid, os.Stdout)
	if err != nil {
		log.Fatalf("stream failed after %d frames: %v", n, err)
	}
	log.Printf("stream closed after %d frames", n)
}
