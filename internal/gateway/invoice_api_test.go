package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/models"
)

// fakeServer is an in-process invoice API used to exercise the client
// against realistic response bodies.
type fakeServer struct {
	mu            sync.Mutex
	lastAuth      string
	annotateCalls int
	lastSubmitted *models.AnnotationSubmission
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := &fakeServer{}
	router := gin.New()

	router.Use(func(c *gin.Context) {
		fake.mu.Lock()
		fake.lastAuth = c.GetHeader("Authorization")
		fake.mu.Unlock()
		c.Next()
	})

	router.POST("/invoices/", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Aucun fichier fourni"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"status":  "pending",
			"message": "Facture téléchargée avec succès",
			"invoice": gin.H{
				"id":            42,
				"original_file": "/media/invoices/original/" + file.Filename,
				"status":        "pending",
				"upload_date":   "2024-02-01T10:30:00Z",
			},
		})
	})

	router.GET("/invoices/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"count": 2,
			"results": []gin.H{
				{"id": 1, "status": "completed", "processed": true},
				{"id": 2, "status": "processing"},
			},
		})
	})

	router.GET("/invoices/:id/", func(c *gin.Context) {
		if c.Param("id") == "404" {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Facture introuvable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":     42,
			"status": "completed",
			"extracted_content": gin.H{
				"raw_text":          "FACTURE F-2024-0042",
				"extraction_method": "layoutlmv3",
				"confidence_scores": gin.H{"numeroFacture": 0.97},
				"structured_data": gin.H{
					"numeroFacture": "F-2024-0042",
					"totalHT":       100,
					"totalTTC":      120,
					"totalTVA":      20,
					"articles": []gin.H{
						{"nom": "Conseil", "quantite": 1, "prixHT": 100, "totalHT": 100, "totalTTC": 120},
					},
				},
			},
		})
	})

	router.POST("/invoices/:id/annotate/", func(c *gin.Context) {
		var submission models.AnnotationSubmission
		if err := c.ShouldBindJSON(&submission); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Corps de requête invalide"})
			return
		}
		fake.mu.Lock()
		fake.annotateCalls++
		fake.lastSubmitted = &submission
		fake.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"status":        "success",
			"message":       "Annotation enregistrée",
			"model_updated": true,
		})
	})

	router.DELETE("/invoices/:id/", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	router.GET("/ml/model-info/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "success",
			"model_available": true,
			"model_exists":    true,
			"annotations":     gin.H{"total": 12, "trained": 10, "untrained": 2},
			"training_jobs":   gin.H{"total": 3, "completed": 2, "failed": 1},
		})
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return fake, server
}

func newTestClient(t *testing.T, url, token string) *Client {
	t.Helper()
	return NewClient(Config{BaseURL: url, Token: token, Timeout: 5 * time.Second}, zap.NewNop())
}

func TestClient_Upload(t *testing.T) {
	_, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	result, err := client.Upload(context.Background(), "facture.pdf", strings.NewReader("%PDF-1.4 fake"))
	require.NoError(t, err)

	assert.Equal(t, "pending", result.Status)
	require.NotNil(t, result.Invoice)
	assert.Equal(t, int64(42), result.Invoice.ID)
	assert.Equal(t, "/media/invoices/original/facture.pdf", result.Invoice.File)
	assert.Equal(t, models.StatusPending, result.Invoice.Status)
}

func TestClient_Get_NormalizesStructuredData(t *testing.T) {
	_, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	inv, err := client.Get(context.Background(), 42)
	require.NoError(t, err)

	require.NotNil(t, inv.ExtractedContent)
	assert.Equal(t, "layoutlmv3", inv.ExtractedContent.ExtractionMethod)
	assert.InDelta(t, 0.97, inv.ExtractedContent.ConfidenceScores["numeroFacture"], 1e-9)

	data := inv.StructuredData()
	require.NotNil(t, data)
	assert.Equal(t, "F-2024-0042", data.NumeroFacture)
	require.Len(t, data.Articles, 1)
	assert.InDelta(t, 120.0, data.Articles[0].TotalTTC, 1e-9)
}

func TestClient_Get_ServerErrorMessageVerbatim(t *testing.T) {
	_, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	_, err := client.Get(context.Background(), 404)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Facture introuvable", apiErr.Message)
}

func TestClient_List_PaginatedShape(t *testing.T) {
	_, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	invoices, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, models.StatusCompleted, invoices[0].Status)
	assert.Equal(t, models.StatusProcessing, invoices[1].Status)
}

func TestClient_List_PlainArrayShape(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/invoices/", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"id": 9, "status": "failed"}})
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL, "")
	invoices, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, int64(9), invoices[0].ID)
}

func TestClient_Annotate(t *testing.T) {
	fake, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	submission := &models.AnnotationSubmission{
		OriginalData:  &models.StructuredData{NumeroFacture: "F-1"},
		CorrectedData: &models.StructuredData{NumeroFacture: "F-001"},
	}
	result, err := client.Annotate(context.Background(), 42, submission)
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.True(t, result.ModelUpdated)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.annotateCalls)
	require.NotNil(t, fake.lastSubmitted)
	assert.Equal(t, "F-001", fake.lastSubmitted.CorrectedData.NumeroFacture)
}

func TestClient_Annotate_MissingIDNeverReachesNetwork(t *testing.T) {
	fake, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	_, err := client.Annotate(context.Background(), 0, &models.AnnotationSubmission{})
	assert.ErrorIs(t, err, ErrMissingInvoiceID)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Zero(t, fake.annotateCalls)
}

func TestClient_BearerTokenInjected(t *testing.T) {
	fake, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "secret-token")

	_, err := client.List(context.Background())
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "Bearer secret-token", fake.lastAuth)
}

func TestClient_Delete(t *testing.T) {
	_, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	require.NoError(t, client.Delete(context.Background(), 42))
	assert.ErrorIs(t, client.Delete(context.Background(), 0), ErrMissingInvoiceID)
}

func TestClient_ModelInfo(t *testing.T) {
	_, server := newFakeServer(t)
	client := newTestClient(t, server.URL, "")

	info, err := client.ModelInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.ModelAvailable)
	assert.Equal(t, 12, info.Annotations.Total)
	assert.Equal(t, 2, info.TrainingJobs.Completed)
}

func TestClient_NetworkError(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", "")

	_, err := client.List(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}
