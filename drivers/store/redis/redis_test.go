package redis

import (
	"context"
	"testing"

	libredis "github.com/go-redis/redis"
)

// 注意：这些测试需要运行的Redis实例
// 可以使用 docker run -d -p 6379:6379 redis 启动

func setupTestClient(t *testing.T) *libredis.Client {
	client := libredis.NewClient(&libredis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用DB 15进行测试，避免影响生产数据
	})
	if err := client.Ping().Err(); err != nil {
		t.Skipf("跳过Redis测试: Redis未运行 (%v)", err)
	}
	client.FlushDB()
	return client
}

func cleanupTestClient(t *testing.T, client *libredis.Client) {
	if err := client.FlushDB().Err(); err != nil {
		t.Logf("清理Redis数据失败: %v", err)
	}
	client.Close()
}

func TestBackend_IncrFixed(t *testing.T) {
	client := setupTestClient(t)
	defer cleanupTestClient(t, client)

	backend, err := New(client, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, resetAt, err := backend.IncrFixed(ctx, "test:fw", 60, 0, 0)
		if err != nil {
			t.Fatalf("IncrFixed: %v", err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
		if resetAt != 60 {
			t.Errorf("resetAt = %d, want 60", resetAt)
		}
	}
}

func TestBackend_CheckSliding(t *testing.T) {
	client := setupTestClient(t)
	defer cleanupTestClient(t, client)

	backend, err := New(client, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_, _, admitted, err := backend.CheckSliding(ctx, "test:sw", 10000, 2, 0)
	if err != nil || !admitted {
		t.Fatalf("first admission: admitted=%v err=%v", admitted, err)
	}
	_, _, admitted, err = backend.CheckSliding(ctx, "test:sw", 10000, 2, 1000)
	if err != nil || !admitted {
		t.Fatalf("second admission: admitted=%v err=%v", admitted, err)
	}
	_, _, admitted, err = backend.CheckSliding(ctx, "test:sw", 10000, 2, 2000)
	if err != nil || admitted {
		t.Fatalf("third admission should be denied: admitted=%v err=%v", admitted, err)
	}
}

func TestBackend_CheckBucket(t *testing.T) {
	client := setupTestClient(t)
	defer cleanupTestClient(t, client)

	backend, err := New(client, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, admitted, err := backend.CheckBucket(ctx, "test:tb", 5, 1.0, 0, 1)
		if err != nil || !admitted {
			t.Fatalf("admission %d: admitted=%v err=%v", i, admitted, err)
		}
	}
	_, _, admitted, err := backend.CheckBucket(ctx, "test:tb", 5, 1.0, 0, 1)
	if err != nil {
		t.Fatalf("CheckBucket: %v", err)
	}
	if admitted {
		t.Error("6th immediate request should be denied — bucket is empty")
	}
}

func TestBackend_ResetAndPeek(t *testing.T) {
	client := setupTestClient(t)
	defer cleanupTestClient(t, client)

	backend, err := New(client, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, _, err := backend.IncrFixed(ctx, "test:reset", 60, 0, 0); err != nil {
		t.Fatalf("IncrFixed: %v", err)
	}
	if err := backend.Reset(ctx, "test:reset"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	value, _, err := backend.Peek(ctx, "test:reset", "fw")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if value != 0 {
		t.Errorf("Peek after Reset = %v, want 0", value)
	}
}

func TestBackend_Probe(t *testing.T) {
	client := setupTestClient(t)
	defer cleanupTestClient(t, client)

	backend, err := New(client, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := backend.Probe(context.Background()); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	if classify(libredis.Nil) != nil {
		t.Error("classify(redis.Nil) should be nil (not-found is not an error)")
	}
	if classify(errClosed) == nil {
		t.Error("classify(redis.ErrClosed) should be non-nil")
	}
}
