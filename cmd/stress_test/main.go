package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/vending/config"
	"github.com/rl1809/vending/internal/adapter/handler"
	"github.com/rl1809/vending/internal/adapter/storage"
	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/core/service"
	"github.com/rl1809/vending/internal/port"
)

const (
	productName   = "stress-test-item"
	initialStock  = 20
	totalRequests = 50
)

type tokenEnvelope struct {
	Data handler.AuthResponse `json:"data"`
}

func main() {
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP base URL of the server")
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC address of the server")
	transport := flag.String("transport", "http", "http or grpc")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	conf := config.CreateNewConfig()
	ctx := context.Background()

	if conf.MySQLConfig.DSN == "" {
		log.Fatal().Msg("MYSQL_DSN is required: the stress test resets stock directly in the database")
	}
	db, err := storage.OpenMySQL(ctx, conf.MySQLConfig.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	defer db.Close()

	var cache port.ListingCache = storage.NewMemoryCache()
	if conf.RedisConfig.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.RedisConfig.Addr,
			Password: conf.RedisConfig.Password,
			DB:       conf.RedisConfig.DB,
		})
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
	}

	products := service.NewProductService(storage.NewMySQLAdapter(db), cache, conf.CacheTTL, conf.PageSize)
	productID, err := resetProduct(ctx, products)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to reset product")
	}

	tokens := make([]string, totalRequests)
	runID := uuid.NewString()[:8]
	for i := range tokens {
		tokens[i], err = signup(*httpAddr, fmt.Sprintf("stress-%s-%d", runID, i))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to sign up stress user")
		}
	}

	var purchase func(token string) (bool, error)
	switch *transport {
	case "http":
		purchase = func(token string) (bool, error) { return purchaseHTTP(*httpAddr, productID, token) }
	case "grpc":
		conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to gRPC server")
		}
		defer conn.Close()
		client := handler.NewVendingClient(conn)
		purchase = func(token string) (bool, error) {
			ctx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
			_, err := client.Purchase(ctx, &handler.PurchaseRequest{ProductID: productID, Quantity: 1, PaymentMethod: "cash"})
			if status.Code(err) == codes.FailedPrecondition {
				return false, nil
			}
			return err == nil, err
		}
	default:
		log.Fatal().Str("transport", *transport).Msg("unknown transport")
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()

			ok, err := purchase(token)
			if err != nil {
				log.Error().Err(err).Msg("purchase request failed")
			}
			if ok {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(tokens[i])
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Transport:        %s\n", *transport)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d purchases succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	product, err := products.Get(ctx, productID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read final stock")
	}
	fmt.Printf("Final Stock:      %d\n", product.Quantity)

	if product.Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", product.Quantity)
	}
}

func resetProduct(ctx context.Context, products *service.ProductService) (int64, error) {
	page, err := products.List(ctx, domain.ProductFilter{Name: productName})
	if err != nil {
		return 0, err
	}
	stock := initialStock
	if len(page.Results) > 0 {
		product, err := products.Update(ctx, page.Results[0].ID, service.ProductPatch{Quantity: &stock})
		if err != nil {
			return 0, err
		}
		return product.ID, nil
	}

	product, err := products.Create(ctx, service.ProductInput{
		Name:     productName,
		Price:    decimal.RequireFromString("1.00"),
		Quantity: stock,
	})
	if err != nil {
		return 0, err
	}
	return product.ID, nil
}

func signup(baseURL, username string) (string, error) {
	body, _ := json.Marshal(handler.SignupRequest{Username: username, Password: "stress-password"})
	resp, err := http.Post(baseURL+"/api/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("signup %s: status %d", username, resp.StatusCode)
	}

	var envelope tokenEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	return envelope.Data.Token, nil
}

func purchaseHTTP(baseURL string, productID int64, token string) (bool, error) {
	body, _ := json.Marshal(handler.PurchaseRequest{Quantity: 1, PaymentMethod: "cash"})
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/products/%d/purchase", baseURL, productID), bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusBadRequest:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
