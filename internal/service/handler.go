package service

import (
	"net/http"

	"connectrpc.com/connect"
)

// ServiceName is the fully-qualified name of the promo service
const ServiceName = "promo.v1.PromoService"

const (
	GenerateCodesProcedure        = "/" + ServiceName + "/GenerateCodes"
	AssignCodesProcedure          = "/" + ServiceName + "/AssignCodes"
	BulkAssignUnassignedProcedure = "/" + ServiceName + "/BulkAssignUnassigned"
	ListCodesProcedure            = "/" + ServiceName + "/ListCodes"
	ListAgentsProcedure           = "/" + ServiceName + "/ListAgents"
	RedeemCodeProcedure           = "/" + ServiceName + "/RedeemCode"
	ListRedemptionsProcedure      = "/" + ServiceName + "/ListRedemptions"
	GetReportProcedure            = "/" + ServiceName + "/GetReport"
	ListNotificationsProcedure    = "/" + ServiceName + "/ListNotifications"
	MarkNotificationReadProcedure = "/" + ServiceName + "/MarkNotificationRead"
)

// MutatingProcedures are the procedures that change registry state
var MutatingProcedures = []string{
	GenerateCodesProcedure,
	AssignCodesProcedure,
	BulkAssignUnassignedProcedure,
	RedeemCodeProcedure,
}

// NewHandler builds an HTTP handler serving every promo procedure. It returns
// the path to mount the handler on.
func NewHandler(s *PromoServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GenerateCodesProcedure, connect.NewUnaryHandler(GenerateCodesProcedure, s.GenerateCodes, opts...))
	mux.Handle(AssignCodesProcedure, connect.NewUnaryHandler(AssignCodesProcedure, s.AssignCodes, opts...))
	mux.Handle(BulkAssignUnassignedProcedure, connect.NewUnaryHandler(BulkAssignUnassignedProcedure, s.BulkAssignUnassigned, opts...))
	mux.Handle(ListCodesProcedure, connect.NewUnaryHandler(ListCodesProcedure, s.ListCodes, opts...))
	mux.Handle(ListAgentsProcedure, connect.NewUnaryHandler(ListAgentsProcedure, s.ListAgents, opts...))
	mux.Handle(RedeemCodeProcedure, connect.NewUnaryHandler(RedeemCodeProcedure, s.RedeemCode, opts...))
	mux.Handle(ListRedemptionsProcedure, connect.NewUnaryHandler(ListRedemptionsProcedure, s.ListRedemptions, opts...))
	mux.Handle(GetReportProcedure, connect.NewUnaryHandler(GetReportProcedure, s.GetReport, opts...))
	mux.Handle(ListNotificationsProcedure, connect.NewUnaryHandler(ListNotificationsProcedure, s.ListNotifications, opts...))
	mux.Handle(MarkNotificationReadProcedure, connect.NewUnaryHandler(MarkNotificationReadProcedure, s.MarkNotificationRead, opts...))

	return "/" + ServiceName + "/", mux
}
