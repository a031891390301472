package nimbus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/nimbus/pkg/audit"
	"mercator-hq/nimbus/pkg/compliance"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/deletion"
	"mercator-hq/nimbus/pkg/retention"
	"mercator-hq/nimbus/pkg/storage"
	"mercator-hq/nimbus/pkg/telemetry/tracing"
)

// Deletion reasons recorded for out-of-band deletions.
const (
	ReasonProcessingComplete = "processing_complete"
	ReasonManual             = "manual_request"
)

// Upload is an object to store under a retention policy.
type Upload struct {
	Name     string
	Data     []byte
	Tier     string
	Metadata map[string]string

	// UploaderID identifies the uploader for the tier's
	// concurrent_uploads limit. Empty skips the limit.
	UploaderID string
}

// Uploaded reports a stored object.
type Uploaded struct {
	ObjectID string
	Locator  string
	Policy   *retention.Policy
}

// NewObjectID returns a fresh object id: "nobj_" and 32 hex characters.
func NewObjectID() string {
	return "nobj_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Upload stores an object and schedules its deletion. If scheduling fails
// the object is removed again so nothing is stored without a deadline.
func (s *Service) Upload(ctx context.Context, up Upload) (_ *Uploaded, err error) {
	ctx, span := s.tracer.Start(ctx, "nimbus.upload", trace.WithAttributes(
		tracing.AttrTier.String(up.Tier),
		tracing.AttrBytes.Int(len(up.Data)),
	))
	defer func() {
		tracing.SetError(span, err)
		span.End()
	}()

	tier, ok := s.cfg.Tier(up.Tier)
	if !ok {
		return nil, config.NewUnknownTierError(up.Tier)
	}
	size := int64(len(up.Data))
	if tier.MaxFileSize > 0 && size > tier.MaxFileSize {
		return nil, &SizeError{Tier: up.Tier, Size: size, Limit: tier.MaxFileSize}
	}
	release, ok := s.uploads.acquire(up.Tier, up.UploaderID, tier.ConcurrentUploads)
	if !ok {
		return nil, fmt.Errorf("%w: %d in flight for %s on tier %q", ErrTooManyUploads, tier.ConcurrentUploads, up.UploaderID, up.Tier)
	}
	defer release()

	id := NewObjectID()
	span.SetAttributes(tracing.AttrObjectID.String(id))
	md := make(map[string]string, len(up.Metadata)+4)
	maps.Copy(md, up.Metadata)
	md[storage.MetaTier] = up.Tier
	md[storage.MetaName] = up.Name
	md[storage.MetaUploadedAt] = s.now().UTC().Format(time.RFC3339Nano)
	md[storage.MetaSize] = strconv.FormatInt(size, 10)
	if up.UploaderID != "" {
		md[storage.MetaUploader] = up.UploaderID
	}

	locator, err := s.store.UploadObject(ctx, id, up.Data, md)
	if err != nil {
		return nil, fmt.Errorf("nimbus: upload failed: %w", err)
	}
	s.metrics.RecordUpload(up.Tier, size)

	policy, err := s.scheduler.ScheduleRetention(ctx, id, up.Tier, md)
	if err != nil {
		if derr := s.store.DeleteObject(context.WithoutCancel(ctx), id); derr != nil {
			s.logger.Error("failed to remove unscheduled object", "object_id", id, "error", derr)
		}
		return nil, err
	}

	s.logger.Info("object stored", "object_id", id, "tier", up.Tier, "size", size, "delete_at", policy.DeleteAt)
	return &Uploaded{ObjectID: id, Locator: locator, Policy: policy}, nil
}

// ScheduleRetention schedules deletion of an object stored by the caller.
func (s *Service) ScheduleRetention(ctx context.Context, objectID, tier string, metadata map[string]string) (*retention.Policy, error) {
	return s.scheduler.ScheduleRetention(ctx, objectID, tier, metadata)
}

// Download returns an object's body.
func (s *Service) Download(ctx context.Context, objectID string) ([]byte, error) {
	data, err := s.store.DownloadObject(ctx, objectID)
	if err != nil {
		return nil, s.wrapNotFound(objectID, err)
	}
	return data, nil
}

// tierOf returns the tier recorded on a stored object.
func (s *Service) tierOf(ctx context.Context, objectID string) (string, error) {
	md, err := s.store.GetMetadata(ctx, objectID)
	if err != nil {
		return "", s.wrapNotFound(objectID, err)
	}
	if md == nil {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}
	tier := md[storage.MetaTier]
	if tier == "" {
		return "", fmt.Errorf("nimbus: object %s has no tier", objectID)
	}
	return tier, nil
}

func (s *Service) wrapNotFound(objectID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}
	return err
}

// SignalProcessingComplete records that issuerID has finished with an
// object. For tiers with immediate_post_signal_deletion the object is
// deleted right away and the completion is returned; otherwise the object
// waits for its scheduled deletion and the result is nil.
func (s *Service) SignalProcessingComplete(ctx context.Context, objectID, issuerID string) (*deletion.Completed, error) {
	tierName, err := s.tierOf(ctx, objectID)
	if err != nil {
		return nil, err
	}
	tier, _ := s.cfg.Tier(tierName)
	immediate := tier.HasFeature(config.FeatureImmediatePostSignalDeletion)

	s.audit.Write(audit.EventProcessingComplete, map[string]any{
		"objectId":          objectID,
		"issuerId":          issuerID,
		"tier":              tierName,
		"immediateDeletion": immediate,
	}, audit.LevelInfo)

	if !immediate {
		return nil, nil
	}
	return s.engine.Execute(ctx, deletion.Request{
		ObjectID: objectID,
		Tier:     tierName,
		Method:   compliance.MethodExternalSignal,
		Reason:   ReasonProcessingComplete,
	})
}

// DeleteObject securely deletes an object now. The scheduled job, if any,
// later completes as already absent.
func (s *Service) DeleteObject(ctx context.Context, objectID, reason string) (*deletion.Completed, error) {
	tier, err := s.tierOf(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = ReasonManual
	}
	return s.engine.Execute(ctx, deletion.Request{
		ObjectID: objectID,
		Tier:     tier,
		Method:   compliance.MethodManual,
		Reason:   reason,
	})
}
