package handler

import (
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/middleware"
	"github.com/xuhao2004/kimochi/internal/models"
	"github.com/xuhao2004/kimochi/internal/service"
)

// QRHandler 跨设备扫码
type QRHandler struct {
	qrService *service.QRLoginService
}

func NewQRHandler(qrService *service.QRLoginService) *QRHandler {
	return &QRHandler{
		qrService: qrService,
	}
}

type ConfirmWeappRequest struct {
	JSCode string `json:"jsCode" validate:"required"`
}

// StartLogin 网页端发起扫码登录
func (h *QRHandler) StartLogin(c echo.Context) error {
	return h.start(c, models.QRFlowLogin, "")
}

// StartBind 已登录网页端发起扫码绑定小程序
func (h *QRHandler) StartBind(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	return h.start(c, models.QRFlowBind, userID)
}

func (h *QRHandler) start(c echo.Context, flow, initiatorID string) error {
	session, err := h.qrService.Start(c.Request().Context(), flow, initiatorID)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"nonce":     session.Nonce,
		"flow":      session.Flow,
		"expiresAt": session.ExpiresAt,
	})
}

// Poll 轮询会话状态
func (h *QRHandler) Poll(c echo.Context) error {
	result, err := h.qrService.Poll(c.Request().Context(), c.Param("nonce"))
	if err != nil {
		return err
	}
	return orz.Ok(c, result)
}

// Confirm 已登录设备确认登录
func (h *QRHandler) Confirm(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := h.qrService.ConfirmLogin(c.Request().Context(), c.Param("nonce"), userID); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"status": service.PollConfirmed,
	})
}

// ConfirmWeapp 小程序确认绑定
func (h *QRHandler) ConfirmWeapp(c echo.Context) error {
	var req ConfirmWeappRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.qrService.ConfirmBindByCode(c.Request().Context(), c.Param("nonce"), req.JSCode); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"status": service.PollConfirmed,
	})
}

// Complete 发起方完成会话，绑定流程需携带发起方凭证
func (h *QRHandler) Complete(c echo.Context) error {
	result, err := h.qrService.Complete(c.Request().Context(), c.Param("nonce"), middleware.UserID(c))
	if err != nil {
		return err
	}
	return orz.Ok(c, result)
}
