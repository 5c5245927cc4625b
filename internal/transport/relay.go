// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/chat"
)

// finalPublishTimeout bounds how long the terminal delta may wait on a full bus.
const finalPublishTimeout = 30 * time.Second

// errPublish marks a failure to hand a fragment to the bus.
var errPublish = errors.New("publish failed")

// emitFunc publishes one fragment.
type emitFunc func(content string) error

// relay runs body in a goroutine, publishing fragments through emit and a
// single terminal Done delta when body returns. closeFn runs last.
func relay(ctx context.Context, pub chat.Publisher, logger *zap.Logger, sessionID string, body func(emit emitFunc) error, closeFn func()) {
	go func() {
		if closeFn != nil {
			defer closeFn()
		}

		start := time.Now()
		fragments := 0
		emit := func(content string) error {
			if content == "" {
				return nil
			}
			fragments++
			if err := pub.Publish(ctx, chat.Delta{SessionID: sessionID, Content: content}); err != nil {
				return errors.Join(errPublish, err)
			}
			return nil
		}

		err := body(emit)
		if errors.Is(err, errPublish) {
			// The bus is gone or the caller gave up; nobody is listening.
			logger.Debug("stream abandoned",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}

		final := chat.Delta{SessionID: sessionID, Err: err, Done: true}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalPublishTimeout)
		defer cancel()
		if perr := pub.Publish(pctx, final); perr != nil {
			logger.Warn("failed to publish end of stream",
				zap.String("session_id", sessionID), zap.Error(perr))
			return
		}

		logger.Debug("stream relayed",
			zap.String("session_id", sessionID),
			zap.Int("fragments", fragments),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}()
}
