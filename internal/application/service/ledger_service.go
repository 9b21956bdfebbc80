package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/pkg/blockhash"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ErrNotRunning is returned by appends issued before Start or after Stop
var ErrNotRunning = errors.New("ledger service is not running")

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// LedgerService appends, verifies and queries the provenance ledger.
// All appends go through a single writer goroutine.
type LedgerService struct {
	repo   repository.LedgerRepository
	sealer service.RecordSealer
	config *config.Config
	logger *logger.Logger

	// State management
	isRunning   bool
	requests    chan *appendRequest
	stopChan    chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	broadcaster service.RecordBroadcaster

	// Metrics
	metrics *LedgerRuntimeMetrics

	now func() time.Time
}

type appendRequest struct {
	ctx            context.Context
	eventType      entity.EventType
	eventData      map[string]any
	documentHashes []string
	result         chan appendResult
}

type appendResult struct {
	record *entity.LedgerRecord
	err    error
}

// LedgerRuntimeMetrics holds runtime metrics of the writer
type LedgerRuntimeMetrics struct {
	BlocksAppended   uint64
	ConflictCount    uint64
	FailureCount     uint64
	DroppedEvents    uint64
	TotalMiningTime  time.Duration
	TotalNonces      uint64
	LastErrorMessage string
	LastErrorTime    *time.Time
	StartTime        time.Time
	mu               sync.RWMutex
}

// NewLedgerService creates new ledger service
func NewLedgerService(
	repo repository.LedgerRepository,
	sealer service.RecordSealer,
	config *config.Config,
	logger *logger.Logger,
) *LedgerService {
	return &LedgerService{
		repo:     repo,
		sealer:   sealer,
		config:   config,
		logger:   logger.WithComponent("ledger-service"),
		requests: make(chan *appendRequest),
		stopChan: make(chan struct{}),
		metrics: &LedgerRuntimeMetrics{
			StartTime: time.Now(),
		},
		now: time.Now,
	}
}

// SetBroadcaster registers the receiver of appended records
func (s *LedgerService) SetBroadcaster(b service.RecordBroadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = b
}

// Start starts the writer goroutine
func (s *LedgerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("ledger service is already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.appender(s.stopChan)

	s.logger.Info("Ledger service started",
		zap.Int("difficulty", s.difficulty()),
		zap.Bool("sealing", s.sealingEnabled()))
	return nil
}

// Stop stops the writer goroutine. An append already being mined completes.
func (s *LedgerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.stopChan)
	s.mu.Unlock()

	s.logger.Info("Stopping ledger service")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Ledger writer stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("Timeout waiting for ledger writer to stop")
	}
	return nil
}

// IsRunning reports whether appends are accepted
func (s *LedgerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// AddBlock durably appends one record for the event and returns it
func (s *LedgerService) AddBlock(ctx context.Context, eventType entity.EventType, eventData map[string]any, documentHashes []string) (*entity.LedgerRecord, error) {
	eventType = entity.EventType(strings.TrimSpace(string(eventType)))
	if eventType == "" {
		return nil, apperrors.NewValidationError("eventType is required", nil)
	}

	data, err := normalizeEventData(eventData)
	if err != nil {
		return nil, apperrors.NewValidationError("eventData must be a JSON object", err)
	}
	if _, err := entity.ParseEvent(eventType, data); err != nil {
		// the payload is opaque to the ledger; an off-schema event is still audited
		s.logger.WithEventType(string(eventType)).Warn("Event payload does not match its typed form, recording as is",
			zap.Error(err))
	}

	docs := make([]string, 0, len(documentHashes))
	for _, doc := range documentHashes {
		if doc = strings.TrimSpace(doc); doc != "" {
			docs = append(docs, doc)
		}
	}

	s.mu.RLock()
	running, stop := s.isRunning, s.stopChan
	s.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	if timeout := s.config.Ledger.AppendTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := &appendRequest{
		ctx:            ctx,
		eventType:      eventType,
		eventData:      data,
		documentHashes: docs,
		result:         make(chan appendResult, 1),
	}

	select {
	case s.requests <- req:
	case <-stop:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Record appends a typed domain event. Unlike AddBlock, a payload that does
// not decode into the typed form of a known kind is rejected.
func (s *LedgerService) Record(ctx context.Context, event entity.Event, documentHashes ...string) (*entity.LedgerRecord, error) {
	if _, err := entity.ParseEvent(event.Type(), event.Payload()); err != nil {
		return nil, apperrors.NewValidationError("typed payload rejected", err)
	}
	return s.AddBlock(ctx, event.Type(), event.Payload(), documentHashes)
}

// HandleEventMessage appends a queued event message
func (s *LedgerService) HandleEventMessage(ctx context.Context, msg *entity.EventMessage) error {
	record, err := s.AddBlock(ctx, msg.EventType, msg.EventData, msg.DocumentHashes)
	if err != nil {
		return err
	}
	s.logger.Debug("Queued event recorded",
		zap.String("event_id", msg.EventID),
		zap.Int64("index", record.Index))
	return nil
}

func (s *LedgerService) appender(stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stop:
			return
		case req := <-s.requests:
			record, err := s.appendWithRetry(req)
			req.result <- appendResult{record: record, err: err}
		}
	}
}

func (s *LedgerService) appendWithRetry(req *appendRequest) (*entity.LedgerRecord, error) {
	log := s.logger.WithEventType(string(req.eventType))

	for attempt := 0; ; attempt++ {
		record, err := s.mineAndPersist(req)
		if err == nil {
			s.metrics.recordAppend()
			s.logger.WithRecord(record.Index, record.Hash).Info("Ledger record appended",
				zap.String("event_type", string(record.EventType)),
				zap.Int64("nonce", record.Nonce))
			s.broadcast(record)
			return record, nil
		}

		if apperrors.IsChainConflict(err) && attempt < s.config.Ledger.ConflictRetries {
			s.metrics.recordConflict()
			log.Warn("Chain tip moved during append, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		s.metrics.recordFailure(err)
		log.Error("Failed to append ledger record", zap.Error(err))
		return nil, err
	}
}

func (s *LedgerService) mineAndPersist(req *appendRequest) (*entity.LedgerRecord, error) {
	ctx := req.ctx

	tip, err := s.repo.GetTip(ctx)
	if err != nil {
		return nil, wrapStorage("failed to read chain tip", err)
	}

	index, previousHash := int64(0), blockhash.GenesisPreviousHash
	if tip != nil {
		index, previousHash = tip.Index+1, tip.Hash
	}

	record := &entity.LedgerRecord{
		Index:          index,
		Timestamp:      s.now().UTC().Truncate(time.Millisecond),
		EventType:      req.eventType,
		EventData:      req.eventData,
		DocumentHashes: req.documentHashes,
		PreviousHash:   previousHash,
		Difficulty:     s.difficulty(),
	}
	denormalize(record)
	record.MerkleRoot = blockhash.MerkleRoot(string(record.EventType), record.EventData, record.DocumentHashes)

	started := time.Now()
	header, hash, err := blockhash.Mine(ctx, record.Header())
	if err != nil {
		return nil, apperrors.NewMiningError(index, err)
	}
	s.metrics.recordMining(time.Since(started), header.Nonce)

	record.Nonce = header.Nonce
	record.Hash = hash
	record.BlockHash = hash
	record.Signature = blockhash.Signature(hash, record.MerkleRoot, header.Timestamp)

	if s.sealingEnabled() {
		seal, err := s.sealer.Seal(hash)
		if err != nil {
			return nil, apperrors.NewMiningError(index, err)
		}
		record.Seal = seal
	}

	if err := s.repo.AppendRecord(ctx, record); err != nil {
		return nil, wrapStorage("failed to persist record", err)
	}
	return record, nil
}

func (s *LedgerService) broadcast(record *entity.LedgerRecord) {
	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b != nil {
		b.Broadcast(record)
	}
}

// GetHistoryByField returns records whose field equals value, oldest first
func (s *LedgerService) GetHistoryByField(ctx context.Context, field, value string) ([]*entity.LedgerRecord, error) {
	if !fieldNamePattern.MatchString(field) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid field name %q", field), nil)
	}
	records, err := s.repo.GetRecordsByField(ctx, field, value)
	if err != nil {
		return nil, wrapStorage("failed to load history", err)
	}
	if records == nil {
		records = []*entity.LedgerRecord{}
	}
	return records, nil
}

// GetPetHistory returns the normalized history of one pet
func (s *LedgerService) GetPetHistory(ctx context.Context, petCode string) (*entity.PetHistory, error) {
	records, err := s.GetHistoryByField(ctx, "petCode", petCode)
	if err != nil {
		return nil, err
	}

	history := make([]entity.PetHistoryEntry, 0, len(records))
	for _, record := range records {
		history = append(history, record.HistoryEntry())
	}
	return &entity.PetHistory{
		PetCode:     petCode,
		TotalEvents: len(history),
		History:     history,
	}, nil
}

// VerifyChain verifies the whole chain, or the records matching field/value
// when field is set. Scoped records are linked against their global
// predecessor. Tampering is reported in the result, never as an error.
func (s *LedgerService) VerifyChain(ctx context.Context, field, value string) (*entity.VerificationResult, error) {
	v := &verifier{sealer: s.sealer, sealedFrom: -1}
	if s.sealingEnabled() {
		v.sealedFrom = s.config.Ledger.SealedFromIndex
	}

	if field == "" {
		var prev *entity.LedgerRecord
		err := s.repo.IterateRecords(ctx, func(record *entity.LedgerRecord) error {
			if prev == nil {
				v.check(record, genesisLink(record))
			} else {
				v.check(record, prev.Hash)
			}
			prev = record
			return nil
		})
		if err != nil {
			return nil, wrapStorage("failed to verify chain", err)
		}
		return v.result(), nil
	}

	records, err := s.GetHistoryByField(ctx, field, value)
	if err != nil {
		return nil, err
	}

	var predecessors []int64
	for _, record := range records {
		if record.Index > 0 {
			predecessors = append(predecessors, record.Index-1)
		}
	}
	globals, err := s.repo.GetRecordsByIndexes(ctx, predecessors)
	if err != nil {
		return nil, wrapStorage("failed to load predecessors", err)
	}

	for _, record := range records {
		if record.Index == 0 {
			v.check(record, blockhash.GenesisPreviousHash)
			continue
		}
		expected := ""
		if pred, ok := globals[record.Index-1]; ok {
			expected = pred.Hash
		}
		v.check(record, expected)
	}
	return v.result(), nil
}

// genesisLink returns the previous hash the first stored record must carry.
// A chain whose first stored record is not index 0 has lost its head.
func genesisLink(record *entity.LedgerRecord) string {
	if record.Index != 0 {
		return ""
	}
	return blockhash.GenesisPreviousHash
}

type verifier struct {
	sealer  service.RecordSealer
	total   int
	invalid []entity.InvalidBlock
	flagged map[int64]struct{}

	// records at or after sealedFrom must carry a seal; -1 disables the rule
	sealedFrom int64
}

// check flags record under every failed check. An empty expectedPrevious
// means the predecessor could not be found.
func (v *verifier) check(record *entity.LedgerRecord, expectedPrevious string) {
	v.total++

	if blockhash.Hash(record.Header()) != record.Hash {
		v.flag(record, entity.ReasonHashMismatch)
	}
	if expectedPrevious == "" || record.PreviousHash != expectedPrevious {
		v.flag(record, entity.ReasonChainLinkBroken)
	}
	if !blockhash.HasProofOfWork(record.Hash, record.Difficulty) {
		v.flag(record, entity.ReasonInvalidPoW)
	}
	switch {
	case record.Seal == nil:
		if v.sealedFrom >= 0 && record.Index >= v.sealedFrom {
			v.flag(record, entity.ReasonInvalidSeal)
		}
	case v.sealer != nil && !v.sealer.VerifySeal(record.Hash, record.Seal):
		v.flag(record, entity.ReasonInvalidSeal)
	}
}

func (v *verifier) flag(record *entity.LedgerRecord, reason string) {
	if v.flagged == nil {
		v.flagged = make(map[int64]struct{})
	}
	v.flagged[record.Index] = struct{}{}
	v.invalid = append(v.invalid, entity.InvalidBlock{
		Index:  record.Index,
		Hash:   record.Hash,
		Reason: reason,
	})
}

func (v *verifier) result() *entity.VerificationResult {
	result := &entity.VerificationResult{
		IsValid:       len(v.invalid) == 0,
		TotalBlocks:   v.total,
		InvalidBlocks: v.invalid,
	}
	if result.InvalidBlocks == nil {
		result.InvalidBlocks = []entity.InvalidBlock{}
	}

	switch {
	case v.total == 0:
		result.Message = "No blocks in chain"
	case result.IsValid:
		result.Message = "All blocks verified successfully"
	default:
		result.Message = fmt.Sprintf("Found %d invalid blocks", len(v.flagged))
	}
	return result
}

// GetVerificationCertificate attests the history of one pet. An unknown pet
// yields a certificate carrying only the error sentinel.
func (s *LedgerService) GetVerificationCertificate(ctx context.Context, petCode string) (*entity.VerificationCertificate, error) {
	history, err := s.GetPetHistory(ctx, petCode)
	if err != nil {
		return nil, err
	}
	if history.TotalEvents == 0 {
		return &entity.VerificationCertificate{
			PetCode: petCode,
			Error:   entity.ErrNoPetRecords,
		}, nil
	}

	verification, err := s.VerifyChain(ctx, "petCode", petCode)
	if err != nil {
		return nil, err
	}

	status := entity.CertificateVerified
	if !verification.IsValid {
		status = entity.CertificateInvalid
	}

	issuedAt := s.now().UTC()
	first := history.History[0]
	latest := history.History[len(history.History)-1]

	return &entity.VerificationCertificate{
		PetCode:      petCode,
		TotalEvents:  history.TotalEvents,
		FirstEvent:   &first,
		LatestEvent:  &latest,
		Verification: verification,
		Certificate: &entity.CertificateEnvelope{
			ID:       blockhash.Digest(petCode + strconv.FormatInt(issuedAt.UnixNano(), 10)),
			IssuedAt: issuedAt,
			Status:   status,
		},
	}, nil
}

// GetStats aggregates the persisted chain
func (s *LedgerService) GetStats(ctx context.Context) (*entity.LedgerStats, error) {
	total, err := s.repo.CountRecords(ctx)
	if err != nil {
		return nil, wrapStorage("failed to count records", err)
	}
	eventTypes, err := s.repo.CountByEventType(ctx)
	if err != nil {
		return nil, wrapStorage("failed to count event types", err)
	}
	if eventTypes == nil {
		eventTypes = []entity.EventTypeCount{}
	}

	stats := &entity.LedgerStats{
		TotalBlocks: total,
		EventTypes:  eventTypes,
		Algorithm:   blockhash.Algorithm,
		Difficulty:  s.difficulty(),
	}

	tip, err := s.repo.GetTip(ctx)
	if err != nil {
		return nil, wrapStorage("failed to read chain tip", err)
	}
	if tip == nil {
		return stats, nil
	}
	first, err := s.repo.GetFirst(ctx)
	if err != nil {
		return nil, wrapStorage("failed to read first record", err)
	}

	stats.LatestBlock = &entity.BlockSummary{
		Index:     tip.Index,
		Hash:      tip.Hash,
		EventType: tip.EventType,
		Timestamp: tip.Timestamp,
	}
	last := tip.Timestamp
	stats.LastBlockDate = &last
	if first != nil {
		firstDate := first.Timestamp
		stats.FirstBlockDate = &firstDate
	}
	return stats, nil
}

// GetMetrics returns a snapshot of the writer metrics
func (s *LedgerService) GetMetrics() *LedgerRuntimeMetrics {
	return s.metrics.snapshot()
}

// RecordDroppedEvent counts an event lost before reaching the writer
func (s *LedgerService) RecordDroppedEvent() {
	s.metrics.mu.Lock()
	s.metrics.DroppedEvents++
	s.metrics.mu.Unlock()
}

// Ping checks the ledger storage
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *LedgerService) difficulty() int {
	d := s.config.Ledger.Difficulty
	if d <= 0 {
		d = blockhash.DefaultDifficulty
	}
	if max := s.config.Ledger.MaxDifficulty; max > 0 && d > max {
		d = max
	}
	return d
}

func (s *LedgerService) sealingEnabled() bool {
	return s.sealer != nil && s.sealer.Enabled()
}

// normalizeEventData round-trips the payload through JSON so the stored
// shape is exactly the hashed shape. Integers stay exact up to int64.
func normalizeEventData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return entity.DecodePayload(raw)
}

// denormalize copies lookup identifiers out of the payload
func denormalize(record *entity.LedgerRecord) {
	data := record.EventData
	record.PetID = lookupString(data, "petId")
	record.PetCode = lookupString(data, "petCode")
	record.UserID = lookupString(data, "userId")
	record.ManagerID = lookupString(data, "managerId")
	if record.ManagerID == "" {
		record.ManagerID = lookupString(data, "managedBy")
	}
	if record.ManagerID == "" {
		record.ManagerID = lookupString(data, "createdBy")
	}
}

func lookupString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

func wrapStorage(message string, err error) error {
	var le *apperrors.LedgerError
	if errors.As(err, &le) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.NewStorageError(message, err)
}

func (m *LedgerRuntimeMetrics) recordAppend() {
	m.mu.Lock()
	m.BlocksAppended++
	m.mu.Unlock()
}

func (m *LedgerRuntimeMetrics) recordConflict() {
	m.mu.Lock()
	m.ConflictCount++
	m.mu.Unlock()
}

func (m *LedgerRuntimeMetrics) recordMining(d time.Duration, nonce int64) {
	m.mu.Lock()
	m.TotalMiningTime += d
	m.TotalNonces += uint64(nonce) + 1
	m.mu.Unlock()
}

func (m *LedgerRuntimeMetrics) recordFailure(err error) {
	m.mu.Lock()
	now := time.Now()
	m.FailureCount++
	m.LastErrorMessage = err.Error()
	m.LastErrorTime = &now
	m.mu.Unlock()
}

func (m *LedgerRuntimeMetrics) snapshot() *LedgerRuntimeMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &LedgerRuntimeMetrics{
		BlocksAppended:   m.BlocksAppended,
		ConflictCount:    m.ConflictCount,
		FailureCount:     m.FailureCount,
		DroppedEvents:    m.DroppedEvents,
		TotalMiningTime:  m.TotalMiningTime,
		TotalNonces:      m.TotalNonces,
		LastErrorMessage: m.LastErrorMessage,
		LastErrorTime:    m.LastErrorTime,
		StartTime:        m.StartTime,
	}
}
