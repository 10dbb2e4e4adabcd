package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/message"
	"github.com/tracyhatemice/mailreader/internal/receiver"
)

// outcome is the result of fetching one message: a message, or an error
// that only affects this message.
type outcome struct {
	id  string
	msg *message.Message
	err error
}

func load[ID any](
	ctx context.Context,
	logger *slog.Logger,
	req *Request,
	h Handler,
	open func(context.Context, *account.Account) (receiver.Session[ID], error),
) (err error) {
	acct := req.Account
	log := logger.With("account", acct.Label(), "protocol", acct.Protocol.String())

	sess, err := open(ctx, acct)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			if err == nil {
				err = fmt.Errorf("close session: %w", cerr)
				return
			}
			log.Debug("close session", "error", cerr)
		}
	}()

	ids, err := sess.List(ctx)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	total := len(ids)
	ids = applyLimit(ids, req.Limit)
	log.Info("fetching messages", "total", total, "fetching", len(ids), "auto_delete", req.AutoDelete)

	var loaded, failed int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := fetch(ctx, sess, id)
		if res.err != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			failed++
			log.Warn("load failed", "msg_id", res.id, "error", res.err)
			h.loadError(acct, res.id, res.err)
			continue
		}

		loaded++
		h.messageLoaded(acct, res.msg)

		if !req.AutoDelete {
			continue
		}
		if derr := sess.Delete(ctx, id); derr != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Warn("delete failed", "msg_id", res.id, "error", derr)
			h.deleteError(acct, res.id, derr)
		}
	}

	log.Info("fetch complete", "loaded", loaded, "failed", failed)
	return nil
}

func fetch[ID any](ctx context.Context, sess receiver.Session[ID], id ID) outcome {
	msg, err := sess.Fetch(ctx, id)
	return outcome{id: fmt.Sprint(id), msg: msg, err: err}
}

// applyLimit keeps the first limit IDs. The session lists oldest first, so
// these are the oldest pending messages.
func applyLimit[ID any](ids []ID, limit *int) []ID {
	if limit == nil || len(ids) <= *limit {
		return ids
	}
	return ids[:*limit]
}
