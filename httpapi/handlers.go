package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/communicator"
	"github.com/remitmatch/cashapp-agent/erp"
	"github.com/remitmatch/cashapp-agent/extractor"
	"github.com/remitmatch/cashapp-agent/orchestrator"
)

func startWorkflowHandler(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startWorkflowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
			return
		}

		txn := audit.PaymentTransaction{
			TransactionId:      req.TransactionId,
			SourceAccountRef:   req.SourceAccountRef,
			Amount:             req.Amount,
			Currency:           req.Currency,
			ValueDate:          req.ValueDate,
			RawRemittanceData:  req.RawRemittanceData,
			CustomerIdentifier: req.CustomerIdentifier,
			DocumentURIs:       audit.StringSlice(req.DocumentURIs),
		}

		workflowId, err := o.StartWorkflow(c.Request.Context(), txn)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, startWorkflowResponse{WorkflowId: workflowId, TransactionId: txn.TransactionId})
	}
}

func getWorkflowHandler(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := o.GetStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if w.TransactionId == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func cancelWorkflowHandler(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := o.Cancel(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, cancelResponse{TransactionId: id, Cancelled: true})
		case errors.Is(err, orchestrator.ErrWorkflowNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, orchestrator.ErrWorkflowAlreadyTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "workflow already in a terminal state"})
		default:
			writeError(c, err)
		}
	}
}

func extractHandler(ex *extractor.Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req extractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
			return
		}
		if ex == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "extractor not configured"})
			return
		}

		tier := extractor.TierAuto
		switch req.TierPreference {
		case "pattern":
			tier = extractor.TierPattern
		case "layout":
			tier = extractor.TierLayout
		case "cloud":
			tier = extractor.TierCloud
		}

		result, err := ex.Extract(c.Request.Context(), extractor.Request{
			DocumentURIs:        req.DocumentURIs,
			RemittanceText:      req.RemittanceText,
			ClientId:            req.ClientId,
			TierPreference:      tier,
			ConfidenceThreshold: req.ConfidenceThreshold,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func fetchInvoicesHandler(facade *erp.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body fetchInvoicesBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
			return
		}
		if facade == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp facade not configured"})
			return
		}

		found, notFound, err := facade.FetchInvoices(c.Request.Context(), body.InvoiceIds, body.ERPSystem, body.CustomerId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoices": found, "not_found": notFound})
	}
}

func postApplicationHandler(facade *erp.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body postApplicationBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
			return
		}
		if facade == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp facade not configured"})
			return
		}

		lines := make([]erp.LineApplication, 0, len(body.Applications))
		for _, a := range body.Applications {
			lines = append(lines, erp.LineApplication{InvoiceId: a.InvoiceId, AmountApplied: a.AmountApplied})
		}

		result, err := facade.PostApplication(c.Request.Context(), erp.Application{
			TransactionId: body.TransactionId,
			CustomerId:    body.CustomerId,
			ERPSystem:     body.ERPSystem,
			Applications:  lines,
			TotalAmount:   body.TotalAmount,
			Currency:      body.Currency,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func testERPConnectionHandler(facade *erp.Facade) gin.HandlerFunc {
	return func(c *gin.Context) {
		if facade == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp facade not configured"})
			return
		}
		status, err := facade.TestConnection(c.Request.Context(), c.Param("system"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func notificationsHandler(comm *communicator.Communicator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body notificationBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fieldErrors(err)})
			return
		}
		if comm == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "communicator not configured"})
			return
		}

		result, err := comm.Dispatch(c.Request.Context(), communicator.Event{
			Kind:          audit.CommunicationKind(body.Kind),
			Recipient:     body.Recipient,
			TemplateName:  body.TemplateName,
			Data:          body.Data,
			TransactionId: body.TransactionId,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func healthHandler(ping func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
