package database

import (
	"context"
	"testing"
	"time"
)

func TestConnectMongoUnreachableFailsWithinTimeout(t *testing.T) {
	start := time.Now()
	_, err := ConnectMongo(context.Background(), "mongodb://127.0.0.1:1", 500*time.Millisecond)
	if err == nil {
		t.Fatalf("expected connection error for unreachable server")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("connect did not respect timeout, took %v", elapsed)
	}
}
