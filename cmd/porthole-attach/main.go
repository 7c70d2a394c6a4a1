// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

// Porthole-attach is a diagnostic client for the relay. It attaches
// to a session as a viewer, prints terminal output frames to stdout,
// and forwards stdin as input frames. Useful for checking a relay
// deployment and a daemon's session without a full app.
//
//	porthole-attach --url ws://localhost:8787/relay --server-id daemon-1
//
// With --since N the attachment resumes stream 1 from offset N and
// the replayed tail is printed before live output. --v1 speaks the
// legacy opaque protocol instead of mux framing.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/porthole-project/porthole/lib/netutil"
	"github.com/porthole-project/porthole/relay"
	"github.com/porthole-project/porthole/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "porthole-attach: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url      = pflag.String("url", "ws://localhost:8787/relay", "relay endpoint URL")
		serverID = pflag.String("server-id", "", "session to attach to (required)")
		since    = pflag.Int64("since", -1, "resume stream 1 from this offset")
		useV1    = pflag.Bool("v1", false, "speak the legacy opaque protocol")
	)
	pflag.Parse()

	if *serverID == "" {
		return fmt.Errorf("--server-id is required")
	}
	if *useV1 && *since >= 0 {
		return fmt.Errorf("--since requires the v2 protocol")
	}

	attachment := relay.Attachment{
		ServerID:  *serverID,
		Role:      relay.RoleClient,
		Version:   relay.V2,
		CreatedAt: time.Now().UTC(),
	}
	if *useV1 {
		attachment.Version = relay.V1
	} else {
		attachment.ConnectionID = uuid.NewString()
		if *since >= 0 {
			attachment.Resume = map[uint32]uint64{1: uint64(*since)}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := transport.Dial(dialCtx, *url, attachment)
	if err != nil {
		return err
	}
	defer client.Close()

	go func() {
		<-ctx.Done()
		client.Close()
	}()
	go forwardStdin(client, *useV1)

	for {
		data, err := client.Receive()
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if *useV1 {
			os.Stdout.Write(data)
			continue
		}
		frame, ok := relay.DecodeFrame(data)
		if !ok {
			fmt.Fprintf(os.Stderr, "porthole-attach: dropping malformed frame (%d bytes)\n", len(data))
			continue
		}
		switch frame.MessageType {
		case relay.MessageTypeOutputUTF8:
			os.Stdout.Write(frame.Payload)
		case relay.MessageTypeReplayGap:
			fmt.Fprintf(os.Stderr, "porthole-attach: history before offset %d was evicted\n",
				relay.ReplayGapOffset(frame))
		}
	}
}

// forwardStdin pumps stdin to the relay until EOF or a send failure.
func forwardStdin(client *transport.Client, useV1 bool) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data := buf[:n]
			if !useV1 {
				data = relay.EncodeFrame(relay.Frame{
					Channel:     relay.ChannelTerminal,
					MessageType: relay.MessageTypeInputUTF8,
					StreamID:    1,
					Payload:     data,
				})
			}
			if err := client.Send(data); err != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "porthole-attach: stdin: %v\n", err)
			}
			return
		}
	}
}
