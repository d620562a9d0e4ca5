package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
)

func TestRedisBlobStoreGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bs := NewRedisBlobStore(db, "taa:", time.Hour)
	ctx := context.Background()

	t.Run("hit returns value", func(t *testing.T) {
		mock.ExpectGet("taa:k1").SetVal("blob")

		got, err := bs.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "blob" {
			t.Errorf("Get = %q, want %q", got, "blob")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Redis expectations not met: %v", err)
		}
	})

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		mock.ExpectGet("taa:k2").RedisNil()

		if _, err := bs.Get(ctx, "k2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get err = %v, want ErrNotFound", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Redis expectations not met: %v", err)
		}
	})

	t.Run("redis error is returned", func(t *testing.T) {
		mock.ExpectGet("taa:k3").SetErr(redis.TxFailedErr)

		_, err := bs.Get(ctx, "k3")
		if err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Get err = %v, want redis failure", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Redis expectations not met: %v", err)
		}
	})
}

func TestRedisBlobStorePut(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bs := NewRedisBlobStore(db, "taa:", time.Hour)
	ctx := context.Background()

	value := []byte("blob")
	mock.ExpectSet("taa:k1", value, time.Hour).SetVal("OK")
	if err := bs.Put(ctx, "k1", value); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mock.ExpectSet("taa:k2", value, time.Hour).SetErr(redis.TxFailedErr)
	if err := bs.Put(ctx, "k2", value); err == nil {
		t.Error("Put should return the redis error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Redis expectations not met: %v", err)
	}
}
