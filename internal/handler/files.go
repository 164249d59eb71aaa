package handler

import (
	"bytes"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"roster/internal/report"
	"roster/internal/sheet"
)

// Export downloads the workbook of the exact course tuple in the query.
func (h *Handler) Export(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	exp, err := rosterOf(c).Export(f)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := sheet.Write(&buf, exp, h.SheetLabels); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": sheet.FileName(f)}))
	c.Data(http.StatusOK, sheet.ContentType, buf.Bytes())
}

// Import reads the multipart "file" workbook into the course tuple of the
// query.
func (h *Handler) Import(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	file, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}
	defer file.Close()

	rows, err := sheet.Read(file, h.SheetLabels)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := rosterOf(c).ImportStudents(f, rows)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(added), "students": added})
}

// Print renders the listing of the query as a printable HTML page.
func (h *Handler) Print(c *gin.Context) {
	q, date, ok := h.bindList(c)
	if !ok {
		return
	}
	table, err := rosterOf(c).Table(q, date)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, q.Filter, table, h.ReportLabels); err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
