package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"branchmind/internal/dispatch"
	"branchmind/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the BranchMind tool-call server over stdio",
	Long: `serve reads newline-delimited JSON tool-call requests on stdin and
writes newline-delimited JSON response envelopes on stdout, one line per
call. Each request is {"tool","cmd","args","workspace","max_chars","fmt"}.`,
	RunE: runServe,
}

// wireRequest is the newline-delimited JSON shape accepted on stdin.
type wireRequest struct {
	Tool      string         `json:"tool"`
	Cmd       string         `json:"cmd"`
	Args      map[string]any `json:"args"`
	Workspace string         `json:"workspace"`
	MaxChars  int            `json:"max_chars"`
	Fmt       string         `json:"fmt"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ws := workspace
	if ws == "" {
		ws, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	dbPath := cfg.Store.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(ws, dbPath)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	d := dispatch.New(s, cfg)
	if logger != nil {
		logger.Info("branchmindd serving", zap.String("workspace", ws), zap.String("db_path", dbPath))
	}
	return serveLoop(cmd.Context(), d, os.Stdin, os.Stdout)
}

func serveLoop(ctx context.Context, d *dispatch.Dispatcher, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		callID := uuid.New().String()
		var req wireRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if logger != nil {
				logger.Warn("malformed request", zap.String("call_id", callID), zap.Error(err))
			}
			_ = enc.Encode(dispatch.Envelope{
				Success: false,
				Error:   &dispatch.CallError{Code: dispatch.ErrInvalidInput, Message: "malformed request: " + err.Error()},
			})
			continue
		}
		if req.Workspace == "" {
			req.Workspace = workspace
		}
		if logger != nil {
			logger.Debug("dispatching call", zap.String("call_id", callID), zap.String("tool", req.Tool), zap.String("cmd", req.Cmd))
		}
		env := d.Dispatch(ctx, dispatch.Request{
			Tool:      req.Tool,
			Cmd:       req.Cmd,
			Args:      req.Args,
			Workspace: req.Workspace,
			MaxChars:  req.MaxChars,
			Fmt:       req.Fmt,
		})
		if err := enc.Encode(env); err != nil {
			return err
		}
	}
	return scanner.Err()
}
