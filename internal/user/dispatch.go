package user

import (
	"context"
	"encoding/json"
	"log/slog"

	"chatcore/internal/chaterr"
	"chatcore/internal/transport"
)

// BeforeHook runs before a command executes. A non-nil err or non-nil data
// short-circuits the command entirely; replacementArgs, if non-nil,
// replaces the already-decoded arguments the command executes with (§4.5
// hook pipeline step 2).
type BeforeHook func(ctx context.Context, username, socketID string, args []any) (err error, data any, replacementArgs []any)

// AfterHook runs after a command executes and may rewrite (err, data)
// before the ack is sent (§4.5 hook pipeline step 4).
type AfterHook func(ctx context.Context, username, socketID string, err error, data any, argsUsed []any) (newErr error, newData any)

// RegisterBefore installs cmd's cmdBefore hook. Passing a nil hook clears it.
func (s *Service) RegisterBefore(cmd string, hook BeforeHook) { s.before[cmd] = hook }

// RegisterAfter installs cmd's cmdAfter hook. Passing a nil hook clears it.
func (s *Service) RegisterAfter(cmd string, hook AfterHook) { s.after[cmd] = hook }

// commandSpec is one entry of the command table: decode validates arity and
// argument types, producing the typed []any the hook pipeline and exec both
// operate on; exec runs the command itself and returns ack data.
type commandSpec struct {
	decode func(args []json.RawMessage) ([]any, error)
	exec   func(ctx context.Context, s *Service, username, socketID string, args []any) (any, error)
}

// HandleCommand runs the full §4.5 hook pipeline for one command. The
// composition root resolves username for socketID (it owns the socket->user
// map from login) and is the single caller of this method from its
// Transport.OnCommand handler.
func (s *Service) HandleCommand(ctx context.Context, username, socketID string, cmd transport.Command) transport.Ack {
	spec, ok := s.commands[cmd.Name]
	if !ok {
		return s.ackErr(chaterr.New(chaterr.BadArgument, cmd.Name))
	}

	// Step 1: validate arguments.
	args, err := spec.decode(cmd.Args)
	if err != nil {
		return s.ackErr(err)
	}

	// Step 2: cmdBefore.
	if before, ok := s.before[cmd.Name]; ok && before != nil {
		berr, bdata, replacement := before(ctx, username, socketID, args)
		if berr != nil || bdata != nil {
			return transport.Ack{Error: chaterr.Render(berr, s.useRawErrors()), Data: bdata}
		}
		if replacement != nil {
			args = replacement
		}
	}

	// Step 3: execute.
	data, execErr := spec.exec(ctx, s, username, socketID, args)

	// Step 4: cmdAfter.
	if after, ok := s.after[cmd.Name]; ok && after != nil {
		execErr, data = after(ctx, username, socketID, execErr, data, args)
	}

	if execErr != nil {
		slog.Debug("command failed", "command", cmd.Name, "user", username, "error", execErr)
	}

	// Step 5: ack.
	return transport.Ack{Error: chaterr.Render(execErr, s.useRawErrors()), Data: data}
}

func (s *Service) ackErr(err error) transport.Ack {
	return transport.Ack{Error: chaterr.Render(err, s.useRawErrors())}
}

func (s *Service) useRawErrors() bool { return s.cfg.UseRawErrorObjects }
