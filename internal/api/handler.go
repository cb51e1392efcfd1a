package api

import (
	"errors"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"

	"pricetracker/internal/cache"
	"pricetracker/internal/products"
	"pricetracker/internal/realtime"
)

const recentChangesLimit = 100

type Handler struct {
	repo    Store
	changes *cache.RecentChanges // nil when redis is not configured
	hub     *realtime.Hub

	// rng assigns shard minutes; guarded because gin runs handlers
	// concurrently and rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewHandler(repo Store, changes *cache.RecentChanges, hub *realtime.Hub, rng *rand.Rand) *Handler {
	return &Handler{repo: repo, changes: changes, hub: hub, rng: rng}
}

func (h *Handler) shardMinute() int {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Intn(60)
}

type createProductInput struct {
	Title      string  `json:"title" binding:"required"`
	URL        string  `json:"url" binding:"required"`
	Image      string  `json:"image"`
	AlarmPrice float64 `json:"alarm_price"`
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var input createProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p := &products.Product{
		Title:      input.Title,
		URL:        input.URL,
		Image:      input.Image,
		AlarmPrice: input.AlarmPrice,
		// Assigned once, never rewritten: the product is probed on this
		// minute of every hour.
		ShardMinute: h.shardMinute(),
	}
	ctx := c.Request.Context()
	id, err := h.repo.InsertProduct(ctx, p)
	if err != nil {
		log.Printf("CreateProduct: repo.InsertProduct error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to insert"})
		return
	}
	p.ID = id
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListProducts(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.repo.GetProducts(ctx)
	if err != nil {
		log.Printf("ListProducts: repo.GetProducts error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch products"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetProduct(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	p, err := h.repo.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		log.Printf("GetProduct: repo.GetProductByID error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch product"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPriceHistory(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	hist, err := h.repo.GetPriceHistory(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		log.Printf("GetPriceHistory: repo.GetPriceHistory error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, hist)
}

type updateAlarmInput struct {
	AlarmPrice float64 `json:"alarm_price"`
}

// UpdateAlarm sets the alarm threshold; <= 0 clears the alarm.
func (h *Handler) UpdateAlarm(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var input updateAlarmInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if input.AlarmPrice < 0 {
		input.AlarmPrice = 0 // anything <= 0 means "no alarm"
	}
	ctx := c.Request.Context()
	if err := h.repo.UpdateAlarm(ctx, id, input.AlarmPrice); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		log.Printf("UpdateAlarm: repo.UpdateAlarm error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alarm"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "alarm_price": input.AlarmPrice})
}

func (h *Handler) DeleteProduct(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	if err := h.repo.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		log.Printf("DeleteProduct: repo.DeleteProduct error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListChanges returns the most recent change records, newest first, served
// through the redis cache when one is configured.
func (h *Handler) ListChanges(c *gin.Context) {
	ctx := c.Request.Context()

	if h.changes != nil {
		recs, ok, err := h.changes.Get(ctx)
		if err != nil {
			log.Printf("ListChanges: cache read error: %v", err)
		} else if ok {
			c.JSON(http.StatusOK, recs)
			return
		}
	}

	recs, err := h.repo.ListRecentChanges(ctx, recentChangesLimit)
	if err != nil {
		log.Printf("ListChanges: repo.ListRecentChanges error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch changes"})
		return
	}
	if h.changes != nil {
		if err := h.changes.Set(ctx, recs); err != nil {
			log.Printf("ListChanges: cache write error: %v", err)
		}
	}
	c.JSON(http.StatusOK, recs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ChangesFeed upgrades the connection and streams change records as they
// are detected.
func (h *Handler) ChangesFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ChangesFeed: upgrade error: %v", err)
		return
	}
	h.hub.AddClient(conn)

	// Drain (and discard) client frames so pings and closes are handled.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.hub.RemoveClient(conn)
				return
			}
		}
	}()
}
