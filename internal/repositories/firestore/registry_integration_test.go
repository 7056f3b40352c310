//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/cartworks/api/internal/domain"
	pconfig "github.com/cartworks/api/internal/platform/config"
	pfirestore "github.com/cartworks/api/internal/platform/firestore"
	"github.com/cartworks/api/internal/repositories"
)

func newIntegrationRegistry(t *testing.T) *Registry {
	t.Helper()

	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "registry-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestCounterRepositoryConcurrentIncrements(t *testing.T) {
	registry := newIntegrationRegistry(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := registry.Counters().Next(ctx, "orders:20250601", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if expected := int64(i + 1); val != expected {
			t.Fatalf("expected sequence %d at position %d, got %d", expected, i, val)
		}
	}
}

func TestProductRepositoryConcurrentSales(t *testing.T) {
	registry := newIntegrationRegistry(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	provider := registry.provider
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.Collection(productsCollection).Doc("prod_stock").Set(ctx, productDocument{
		Name:           "Desk lamp",
		Price:          4500,
		StockQuantity:  5,
		TrackInventory: true,
		IsActive:       true,
		UpdatedAt:      now,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Two concurrent sales of 3 against stock of 5: exactly one must win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(idx int) {
			defer wg.Done()
			results[idx] = registry.RunInTx(ctx, func(ctx context.Context) error {
				return registry.Products().ApplySales(ctx, []repositories.SaleMutation{{
					ProductID:    "prod_stock",
					Quantity:     3,
					Revenue:      13500,
					EnforceStock: true,
					Now:          now,
				}})
			})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range results {
		if err == nil {
			continue
		}
		failures++
		var invErr *repositories.InventoryError
		if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
			t.Fatalf("expected insufficient stock error, got %v", err)
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one failed reservation, got %d failures", failures)
	}

	product, err := registry.Products().FindByID(ctx, "prod_stock")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if product.StockQuantity != 2 {
		t.Fatalf("expected stock 2 after one sale of 3, got %d", product.StockQuantity)
	}
	if product.SalesCount != 3 {
		t.Fatalf("expected sales count 3, got %d", product.SalesCount)
	}
}

func TestOrderRepositoryInsertAndList(t *testing.T) {
	registry := newIntegrationRegistry(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		order := domain.Order{
			ID:          fmt.Sprintf("ord_%02d", i),
			OrderNumber: fmt.Sprintf("ORD-20250601-%06d", i+1),
			UserID:      "user_1",
			Items: []domain.OrderItem{
				{ProductID: "prod_1", Name: "Desk lamp", Price: 4500, Quantity: 1},
			},
			Pricing:   domain.PricingSummary{Subtotal: 4500, Total: 4500},
			Payment:   domain.PaymentInfo{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPending},
			Status:    domain.OrderStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert order %d: %v", i, err)
		}
	}

	exists, err := registry.Orders().ExistsByNumber(ctx, "ORD-20250601-000002")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !exists {
		t.Fatal("expected order number to exist")
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{
		UserID:     "user_1",
		Pagination: domain.Pagination{Page: 1, PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected total 3, got %d", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if !strings.HasSuffix(page.Items[0].OrderNumber, "000003") {
		t.Fatalf("expected newest first, got %s", page.Items[0].OrderNumber)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
