package handler

import (
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/config"
	"github.com/xuhao2004/kimochi/internal/service"
)

type AccountChangeHandler struct {
	cfg           *config.AppConfig
	changeService *service.AccountChangeService
}

func NewAccountChangeHandler(cfg *config.AppConfig, changeService *service.AccountChangeService) *AccountChangeHandler {
	return &AccountChangeHandler{
		cfg:           cfg,
		changeService: changeService,
	}
}

// CreateChangeRequest 提交变更申请
type CreateChangeRequest struct {
	ChangeType string `json:"changeType" validate:"required,oneof=email phone"`
	NewValue   string `json:"newValue" validate:"required,max=128"`
}

type CancelChangeRequest struct {
	Code string `json:"code" validate:"required"`
}

type RejectChangeRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Create 提交邮箱或手机号变更申请
func (h *AccountChangeHandler) Create(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req CreateChangeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	request, err := h.changeService.Request(c.Request().Context(), userID, req.ChangeType, req.NewValue)
	if err != nil {
		return err
	}
	return orz.Ok(c, request)
}

// ListMine 当前用户的变更申请
func (h *AccountChangeHandler) ListMine(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	items, err := h.changeService.ListMine(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"items": items,
	})
}

// Notifications 当前用户的站内通知
func (h *AccountChangeHandler) Notifications(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	items, err := h.changeService.Notifications(c.Request().Context(), userID, 50)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"items": items,
	})
}

// SendCancelCode 向当前联系方式发送撤销验证码
func (h *AccountChangeHandler) SendCancelCode(c echo.Context) error {
	code, err := h.changeService.SendCancelCode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return codeSent(c, h.cfg, code)
}

// Cancel 凭验证码撤销申请
func (h *AccountChangeHandler) Cancel(c echo.Context) error {
	var req CancelChangeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.changeService.Cancel(c.Request().Context(), c.Param("id"), req.Code); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"message": "申请已撤销",
	})
}

// ListPending 管理员待审批列表
func (h *AccountChangeHandler) ListPending(c echo.Context) error {
	page, pageSize := pagination(c)
	items, total, err := h.changeService.ListPending(c.Request().Context(), page, pageSize)
	if err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"items":     items,
		"total":     total,
		"pageIndex": page,
		"pageSize":  pageSize,
	})
}

// Approve 管理员批准申请
func (h *AccountChangeHandler) Approve(c echo.Context) error {
	adminID, err := requireUser(c)
	if err != nil {
		return err
	}
	if err := h.changeService.Approve(c.Request().Context(), adminID, c.Param("id")); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"message": "已批准",
	})
}

// Reject 管理员驳回申请
func (h *AccountChangeHandler) Reject(c echo.Context) error {
	adminID, err := requireUser(c)
	if err != nil {
		return err
	}
	var req RejectChangeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.changeService.Reject(c.Request().Context(), adminID, c.Param("id"), req.Reason); err != nil {
		return err
	}
	return orz.Ok(c, orz.Map{
		"message": "已驳回",
	})
}
