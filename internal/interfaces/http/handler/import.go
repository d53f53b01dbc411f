package handler

import (
	"github.com/equiptrack/station/internal/application/sync"
	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/infrastructure/importer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ImportHandler registers equipment in bulk from CSV files.
type ImportHandler struct {
	BaseHandler
	adapter *sync.Adapter
	logger  *zap.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(adapter *sync.Adapter, logger *zap.Logger) *ImportHandler {
	return &ImportHandler{adapter: adapter, logger: logger}
}

// RegisterRoutes registers import routes
func (h *ImportHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/import/:category", h.Import)
}

// ImportResponse reports what the import did, or would do in dry-run.
type ImportResponse struct {
	DryRun     bool                `json:"dry_run"`
	Inserted   int                 `json:"inserted"`
	Duplicates []string            `json:"duplicates,omitempty"`
	Errors     []importer.RowError `json:"errors,omitempty"`
	Rows       []importer.Row      `json:"rows,omitempty"`
}

// Import parses an uploaded CSV and registers its rows in one category.
// With ?dry_run=true the file is validated and checked for duplicate
// serials without writing anything.
func (h *ImportHandler) Import(c *gin.Context) {
	cat, err := equipment.ParseCategory(c.Param("category"))
	if err != nil {
		h.DomainError(c, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.BadRequest(c, "missing file upload")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.BadRequest(c, "failed to open upload")
		return
	}
	defer file.Close()

	delimiter := ','
	if c.Query("delimiter") == ";" {
		delimiter = ';'
	}
	parser, err := importer.NewCSVParser(file, importer.WithDelimiter(delimiter))
	if err != nil {
		h.DomainError(c, err)
		return
	}
	result, err := parser.ParseAll()
	if err != nil {
		h.DomainError(c, err)
		return
	}

	serials := make([]string, len(result.Rows))
	for i, row := range result.Rows {
		serials[i] = row.SerialNumber
	}
	duplicates, err := h.adapter.FindExistingSerials(c.Request.Context(), cat, serials)
	if err != nil {
		h.DomainError(c, err)
		return
	}

	dryRun := c.Query("dry_run") == "true"
	resp := ImportResponse{DryRun: dryRun, Duplicates: duplicates, Errors: result.Errors}
	if dryRun {
		resp.Rows = result.Rows
		h.Success(c, resp)
		return
	}
	if len(duplicates) > 0 {
		h.DomainError(c, equipment.ErrDuplicateSerial)
		return
	}

	items := make([]equipment.Item, 0, len(result.Rows))
	for _, row := range result.Rows {
		item, err := equipment.NewItem(cat, row.InternalID, row.Model, row.SerialNumber, equipment.StatusOnStock)
		if err != nil {
			h.DomainError(c, err)
			return
		}
		items = append(items, *item)
	}
	inserted, err := h.adapter.InsertItems(c.Request.Context(), cat, items)
	if err != nil {
		h.DomainError(c, err)
		return
	}

	h.logger.Info("Imported equipment",
		zap.String("category", string(cat)),
		zap.Int("rows", len(inserted)),
		zap.Int("rejected", len(result.Errors)))
	resp.Inserted = len(inserted)
	h.Success(c, resp)
}
