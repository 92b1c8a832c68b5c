package xerosync

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubPushHandler receives the daily reconcile trigger per business.
// Malformed envelopes are acked (204) so they never poison the
// subscription; a processing failure returns 500 so Pub/Sub redelivers,
// which the idempotency row makes safe.
func PubSubPushHandler(logger *logrus.Logger, gw workflow.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_RECONCILE_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var msg config.ReconcilePollMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			c.Status(204)
			return
		}
		if msg.BusinessId == "" {
			c.Status(204)
			return
		}

		if err := ProcessReconcilePoll(c.Request.Context(), logger, gw, msg); err != nil {
			if err == workflow.ErrIdempotencyInProgress {
				c.Status(204)
				return
			}
			config.LogError(logger, "pubsub.go", "PubSubPushHandler", "ProcessReconcilePoll", msg.BusinessId, err)
			c.Status(500)
			return
		}
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
