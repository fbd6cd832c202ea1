package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crabstack.local/projects/crab-stk/internal/stk"
)

const requestTimeout = 10 * time.Second

func newSubmitCommand() *cobra.Command {
	var slotRaw string
	cmd := &cobra.Command{
		Use:   "submit <command.json|->",
		Short: "Submit a proactive command to a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := daemonURL(cmd)
			if err != nil {
				return err
			}
			slot, err := stk.ParseSlotID(slotRaw)
			if err != nil {
				return err
			}
			payload, err := readCommand(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			body, err := doRequest(cmd.Context(), http.MethodPost, fmt.Sprintf("%s/v1/slots/%s/commands", base, slot), payload)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().StringVar(&slotRaw, "slot", "0", "target slot")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var slotRaw string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a slot's session snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := daemonURL(cmd)
			if err != nil {
				return err
			}
			slot, err := stk.ParseSlotID(slotRaw)
			if err != nil {
				return err
			}
			body, err := doRequest(cmd.Context(), http.MethodGet, fmt.Sprintf("%s/v1/slots/%s/status", base, slot), nil)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().StringVar(&slotRaw, "slot", "0", "slot to inspect")
	return cmd
}

// readCommand loads a proactive command from path, or from stdin for "-",
// and checks that it decodes before anything is sent.
func readCommand(stdin io.Reader, path string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if strings.TrimSpace(path) == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read command: %w", err)
	}

	var cmd stk.ProactiveCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if !cmd.Type.Valid() {
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return json.Marshal(cmd)
}

func doRequest(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
