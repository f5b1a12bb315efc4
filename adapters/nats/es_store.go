package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborward/theseus-go/core/es"
)

const (
	defaultSubjectPrefix = "theseus.es"
	defaultStreamName    = "THESEUS_ES"
)

type EventStoreConfig struct {
	Connect       Connector // nil means ConnectDefault()
	Log           *slog.Logger
	SubjectPrefix string // subject prefix events are published under
	StreamName    string
}

// EventStore keeps every aggregate stream in one JetStream stream, subject
// <prefix>.<aggType>.<aggID>. The JetStream stream sequence doubles as the
// global commit offset; optimistic concurrency rides on the broker's
// expected-last-subject-sequence check.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
	)

	stream, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) subjectForAggregate(aggType, aggID string) string {
	return e.subjectPrefix + "." + aggType + "." + aggID
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType, aggID string,
	opts ...es.ReadOption,
) ([]es.Envelope, error) {
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	readOpts := es.NewReadOptions(opts...)
	subj := e.subjectForAggregate(aggType, aggID)

	// the newest event bounds the read; without one the stream doesn't exist
	last, err := e.lastEventForAggregate(ctx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, es.ErrAggregateNotFound
	}

	consumerCfg := jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	}
	if readOpts.FromSeq > 1 {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = readOpts.FromSeq
	}
	cc, err := e.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, err
	}

	loaded, err := e.consumeUntil(ctx, cc, last.Seq)
	if err != nil {
		return nil, err
	}

	if readOpts.FromVersion > 0 {
		filtered := loaded[:0]
		for _, ev := range loaded {
			if ev.Version >= readOpts.FromVersion {
				filtered = append(filtered, ev)
			}
		}
		loaded = filtered
	}
	return loaded, nil
}

func (e *EventStore) consumeUntil(
	ctx context.Context,
	cc jetstream.Consumer,
	endSeq uint64,
) (loaded []es.Envelope, err error) {
outer:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(100)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			ev, err := e.decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			loaded = append(loaded, *ev)

			if endSeq > 0 && ev.Seq >= endSeq {
				break outer
			}
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}
		if empty {
			break
		}
	}
	return loaded, nil
}

// Append's atomicity is weaker than the in-memory store's: JetStream has no
// multi-message transaction, so a multi-event batch is published message by
// message and an infrastructure failure mid-batch (timeout, lost connection)
// can leave a committed prefix. The prefix is still a valid, gapless stream,
// the broker deduplicates a retried batch by envelope ID within its
// duplicates window, and a concurrent writer is kept out for the whole batch
// by the per-subject sequence chain. Single-event appends, the normal
// command case, are atomic.
func (e *EventStore) Append(
	ctx context.Context,
	aggType, aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.AppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}

	// resolve the stream position the expected version corresponds to
	last, err := e.lastEventForAggregate(ctx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	var (
		curVersion es.Version
		curSubjSeq uint64
	)
	if last != nil {
		curVersion = last.Version
		curSubjSeq = last.Seq
	}
	if curVersion != expectedVersion {
		return nil, fmt.Errorf(
			"%w: %s/%s at version %d, expected %d",
			es.ErrConcurrencyConflict, aggType, aggID, curVersion, expectedVersion,
		)
	}

	// The first publish carries the broker-side guard: it is rejected when
	// another writer got in between the read above and this write. The rest
	// of the batch then chains off the returned sequence.
	var lastSeq uint64
	expectSubjSeq := curSubjSeq
	for _, ev := range events {
		lastSeq, err = e.publish(ctx, ev, expectSubjSeq)
		if err != nil {
			return nil, err
		}
		expectSubjSeq = lastSeq
	}

	return &es.AppendResult{LastSeq: lastSeq}, nil
}

func (e *EventStore) publish(ctx context.Context, ev es.Envelope, expectSubjSeq uint64) (uint64, error) {
	subject := e.subjectForAggregate(ev.AggregateType, ev.AggregateID)

	msg := natsgo.NewMsg(subject)
	msg.Header.Set("x-event-type", ev.Type)
	msg.Header.Set("x-aggregate-type", ev.AggregateType)
	msg.Header.Set("x-aggregate-id", ev.AggregateID)

	var err error
	msg.Data, err = json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	ackF, err := e.js.PublishMsgAsync(
		msg,
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectLastSequencePerSubject(expectSubjSeq),
	)
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", subject, err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case ack := <-ackF.Ok():
		return ack.Sequence, nil
	case err := <-ackF.Err():
		if isWrongLastSequence(err) {
			return 0, fmt.Errorf("%w: %s moved past subject seq %d", es.ErrConcurrencyConflict, subject, expectSubjSeq)
		}
		return 0, fmt.Errorf("publish to %s: %w", subject, err)
	}
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (e *EventStore) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	options := es.NewSubscribeOpts(opts...)

	var filterSubjects []string
	for _, f := range options.Filters() {
		switch {
		case f.AggregateType != "" && f.AggregateID != "":
			filterSubjects = append(filterSubjects, e.subjectForAggregate(f.AggregateType, f.AggregateID))
		case f.AggregateType != "":
			filterSubjects = append(filterSubjects, e.subjectForAggregate(f.AggregateType, "*"))
		default:
			return nil, fmt.Errorf("invalid filter: %+v", f)
		}
	}
	if len(filterSubjects) == 0 {
		filterSubjects = []string{e.subjectForAggregate("*", "*")}
	}

	var maxSeq uint64
	for _, s := range filterSubjects {
		m, err := e.stream.GetLastMsgForSubject(ctx, s)
		if err != nil && !errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, fmt.Errorf("last message for subject %q: %w", s, err)
		}
		if err == nil {
			maxSeq = max(maxSeq, m.Sequence)
		}
	}

	consumerCfg := jetstream.ConsumerConfig{
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		FilterSubjects:    filterSubjects,
		InactiveThreshold: 10 * time.Minute,
	}
	if options.DeliverPolicy() == es.DeliverAllPolicy {
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
		if options.StartSeq() > 1 {
			consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
			consumerCfg.OptStartSeq = options.StartSeq()
		}
	}

	consumer, err := e.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer filter_subjects=%+v: %w", filterSubjects, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan es.Envelope, 64)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := msg.Ack(); err != nil {
			e.log.Error("ack failed", slog.Any("error", err))
			return
		}
		ev, err := e.decodeMsg(msg)
		if err != nil {
			e.log.Error("decode failed", slog.Any("error", err))
			return
		}
		select {
		case ch <- *ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	stopOnce := sync.Once{}
	stop := func() {
		stopOnce.Do(func() {
			cc.Drain()
			cancel()
			close(ch)
		})
	}
	context.AfterFunc(ctx, stop)

	return &jsSubscription{ch: ch, cancel: stop, maxSeq: maxSeq}, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()
	return js.CreateOrUpdateStream(ctx, cfg)
}

func (e *EventStore) decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

func (e *EventStore) lastEventForAggregate(ctx context.Context, aggType, aggID string) (*es.Envelope, error) {
	subject := e.subjectForAggregate(aggType, aggID)
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(lm.Data, env); err != nil {
		return nil, fmt.Errorf("unmarshal last message for %q: %w", subject, err)
	}
	env.Seq = lm.Sequence
	return env, nil
}

var _ es.EventStore = (*EventStore)(nil)

type jsSubscription struct {
	ch     chan es.Envelope
	cancel func()
	maxSeq uint64
}

func (s *jsSubscription) Chan() <-chan es.Envelope { return s.ch }
func (s *jsSubscription) MaxSequence() uint64      { return s.maxSeq }
func (s *jsSubscription) Cancel()                  { s.cancel() }

var _ es.Subscription = (*jsSubscription)(nil)
