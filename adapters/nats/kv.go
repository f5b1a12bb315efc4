package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborward/theseus-go/ports/kv"
)

type KeyValueConfig struct {
	Connect  Connector // nil means ConnectDefault()
	Bucket   string
	MaxBytes int64
}

// KeyValue implements the kv port on a JetStream key-value bucket.
type KeyValue struct {
	jskv    jetstream.KeyValue
	closeNc closeFunc
}

func NewKeyValue(cfg KeyValueConfig) (*KeyValue, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

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

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024 * 1024
	}

	jskv, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	return &KeyValue{jskv: jskv, closeNc: closeNatsCon}, nil
}

func (k *KeyValue) Close() { k.closeNc() }

func (k *KeyValue) Put(ctx context.Context, key string, entry kv.Entry) error {
	_, err := k.jskv.Put(ctx, key, entry.Data)
	return err
}

func (k *KeyValue) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.jskv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, err
	}
	return kv.Entry{Data: v.Value()}, nil
}

func (k *KeyValue) Delete(ctx context.Context, key string) error {
	err := k.jskv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

var _ kv.Store = (*KeyValue)(nil)
