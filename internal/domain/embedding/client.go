package embedding

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/recallstack/recall-server/internal/metrics"
)

// Cache interface for embedding storage
type Cache interface {
	Get(key string) ([]float32, bool)
	Set(key string, value []float32, ttl time.Duration)
}

type CacheConfig struct {
	Type      string // "redis", "memory", "noop"
	RedisURL  string
	KeyPrefix string
	MaxSize   int
	TTL       time.Duration
}

// Cache implementations

// 1. Redis Cache (recommended for production)
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(redisURL, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: prefix,
	}, nil
}

func (c *RedisCache) Get(key string) ([]float32, bool) {
	ctx := context.Background()
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		metrics.RecordCacheMiss("embedding_redis")
		return nil, false
	}

	// Deserialize float32 array
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		embedding[i] = math.Float32frombits(bits)
	}

	metrics.RecordCacheHit("embedding_redis")
	return embedding, true
}

func (c *RedisCache) Set(key string, value []float32, ttl time.Duration) {
	ctx := context.Background()

	// Serialize float32 array
	data := make([]byte, len(value)*4)
	for i, f := range value {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(data[i*4:], bits)
	}

	c.client.Set(ctx, c.prefix+key, data, ttl)
}

// 2. In-Memory LRU Cache (alternative, no Redis required)
type MemoryCache struct {
	cache *lru.Cache
	ttl   time.Duration
	mu    sync.RWMutex
}

type cacheEntry struct {
	value     []float32
	expiresAt time.Time
}

func NewMemoryCache(maxSize int, ttl time.Duration) (*MemoryCache, error) {
	cache, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}

	return &MemoryCache{
		cache: cache,
		ttl:   ttl,
	}, nil
}

func (c *MemoryCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, found := c.cache.Get(key)
	if !found {
		metrics.RecordCacheMiss("embedding_memory")
		return nil, false
	}

	entry := val.(cacheEntry)
	if time.Now().After(entry.expiresAt) {
		// Expired
		c.cache.Remove(key)
		metrics.RecordCacheMiss("embedding_memory")
		return nil, false
	}

	metrics.RecordCacheHit("embedding_memory")
	return entry.value, true
}

func (c *MemoryCache) Set(key string, value []float32, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.ttl
	}
	entry := cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.cache.Add(key, entry)
}

// 3. NoOps Cache (disable caching)
type NoOpsCache struct{}

func NewNoOpsCache() *NoOpsCache {
	return &NoOpsCache{}
}

func (c *NoOpsCache) Get(key string) ([]float32, bool) {
	return nil, false // Always cache miss
}

func (c *NoOpsCache) Set(key string, value []float32, ttl time.Duration) {
	// Do nothing
}

// Cache factory
func NewCache(config CacheConfig) (Cache, error) {
	switch config.Type {
	case "redis":
		return NewRedisCache(config.RedisURL, config.KeyPrefix)
	case "memory":
		return NewMemoryCache(config.MaxSize, config.TTL)
	case "noop":
		return NewNoOpsCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.Type)
	}
}

// Client interface and implementation

type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	ValidateServer(ctx context.Context) error
}

// Dimensions is the embedding width the engine stores and searches.
const Dimensions = 1024

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
	cacheTTL   time.Duration
}

type EmbedRequest struct {
	Inputs    interface{} `json:"inputs"` // string or []string
	Normalize bool        `json:"normalize"`
	Truncate  bool        `json:"truncate"`
}

type EmbedResponse [][]float32

type ModelInfo struct {
	ModelID string `json:"model_id"`
}

func NewHTTPClient(baseURL string, cacheConfig CacheConfig) (*HTTPClient, error) {
	cache, err := NewCache(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	ttl := cacheConfig.TTL
	if ttl == 0 {
		ttl = 1 * time.Hour
	}

	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache:    cache,
		cacheTTL: ttl,
	}, nil
}

func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	// Check cache first
	cachedResults := make([][]float32, len(texts))
	uncachedIndices := []int{}
	uncachedTexts := []string{}

	for i, text := range texts {
		if cached, found := c.cache.Get(text); found {
			cachedResults[i] = cached
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return cachedResults, nil
	}

	reqBody := EmbedRequest{
		Inputs:    uncachedTexts,
		Normalize: true,
		Truncate:  true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var embeddings EmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(embeddings) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(uncachedTexts), len(embeddings))
	}
	metrics.RecordEmbedding(time.Since(start).Seconds())

	// Merge results and cache
	for i, idx := range uncachedIndices {
		cachedResults[idx] = embeddings[i]
		c.cache.Set(uncachedTexts[i], embeddings[i], c.cacheTTL)
	}

	return cachedResults, nil
}

func (c *HTTPClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *HTTPClient) ValidateServer(ctx context.Context) error {
	// 1. Check health endpoint
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil || resp.StatusCode != 200 {
		return fmt.Errorf("embedding server not healthy")
	}
	resp.Body.Close()

	// 2. Check model info
	resp, err = c.httpClient.Get(c.baseURL + "/info")
	if err != nil {
		return fmt.Errorf("failed to get model info: %w", err)
	}
	defer resp.Body.Close()

	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("failed to decode model info: %w", err)
	}

	if info.ModelID != "BAAI/bge-m3" {
		log.Warn().Str("model", info.ModelID).Msg("Expected BGE-M3, got different model")
	}

	// 3. Test embedding
	embeddings, err := c.Embed(ctx, []string{"test"})
	if err != nil {
		return fmt.Errorf("test embedding failed: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) != Dimensions {
		return fmt.Errorf("expected %d dimensions, got %d", Dimensions, len(embeddings[0]))
	}

	return nil
}
