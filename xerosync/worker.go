package xerosync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const pollHandlerName = "reconcile-poll"

// ProcessReconcilePoll runs the daily reconciliation batch for one business.
//
// Safety layers, outermost first: a best-effort Redis lock sheds duplicate
// pushes cheaply when Redis is up; a MySQL advisory lock is the real
// serializer across instances; a durable idempotency row per
// (business, run date) makes a redelivered pubsub message a no-op after a
// successful run. The remittance-level writes inside PollBusiness are
// status-guarded on top of all this.
func ProcessReconcilePoll(ctx context.Context, logger *logrus.Logger, gw workflow.Gateway,
	msg config.ReconcilePollMessage) error {

	if msg.BusinessId == "" {
		return fmt.Errorf("reconcile poll message has no business id")
	}
	runDate := msg.RunDate
	if runDate == "" {
		runDate = time.Now().UTC().Format("2006-01-02")
	}
	if msg.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
	}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "remit-poll:"+msg.BusinessId, 10*time.Minute, nil)
		if err == nil {
			defer lock.Release(context.Background())
		} else if err == redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"business_id": msg.BusinessId,
				"run_date":    runDate,
			}).Info("reconcile poll already running elsewhere; skipping")
			return nil
		}
		// Any other Redis error: fall through, the advisory lock decides.
	}

	db := config.GetDB().WithContext(ctx)
	if err := workflow.AcquireBusinessPollLock(db, msg.BusinessId); err != nil {
		return err
	}
	defer workflow.ReleaseBusinessPollLock(db, msg.BusinessId)

	skip, err := workflow.BeginIdempotency(db, msg.BusinessId, pollHandlerName, runDate)
	if err != nil {
		return err
	}
	if skip {
		logger.WithFields(logrus.Fields{
			"business_id": msg.BusinessId,
			"run_date":    runDate,
		}).Info("reconcile poll already succeeded for this date; skipping")
		return nil
	}

	results, err := workflow.PollBusiness(ctx, config.GetDB(), logger, gw, msg.BusinessId)
	if err != nil {
		if markErr := workflow.MarkIdempotencyFailed(db, msg.BusinessId, pollHandlerName, runDate, err); markErr != nil {
			config.LogError(logger, "worker.go", "ProcessReconcilePoll", "MarkIdempotencyFailed", msg.BusinessId, markErr)
		}
		return err
	}

	transitioned := 0
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			continue
		}
		if result.NewStatus != result.OldStatus {
			transitioned++
		}
	}
	logger.WithFields(logrus.Fields{
		"business_id":  msg.BusinessId,
		"run_date":     runDate,
		"evaluated":    len(results),
		"transitioned": transitioned,
		"failed":       failed,
	}).Info("reconcile poll finished")

	// Per-remittance failures are already audited and must not block the
	// batch from completing; only a batch-level failure voids the run.
	return workflow.MarkIdempotencySucceeded(db, msg.BusinessId, pollHandlerName, runDate)
}

// FanOutReconcilePoll publishes one poll trigger per active business. Called
// by Cloud Scheduler through the fan-out endpoint or the poll-run tool.
func FanOutReconcilePoll(ctx context.Context, logger *logrus.Logger) (int, error) {
	businessIds, err := models.ListActiveBusinessIds(ctx)
	if err != nil {
		return 0, err
	}

	runDate := time.Now().UTC().Format("2006-01-02")
	published := 0
	for _, businessId := range businessIds {
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		_, err := config.PublishReconcilePoll(ctx, config.ReconcilePollMessage{
			BusinessId:    businessId,
			RunDate:       runDate,
			CorrelationId: correlationId,
		})
		if err != nil {
			config.LogError(logger, "worker.go", "FanOutReconcilePoll", "PublishReconcilePoll", businessId, err)
			continue
		}
		published++
	}
	return published, nil
}
