package service

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote promo service
type Client struct {
	generateCodes        *connect.Client[GenerateCodesRequest, GenerateCodesResponse]
	assignCodes          *connect.Client[AssignCodesRequest, AssignCodesResponse]
	bulkAssignUnassigned *connect.Client[BulkAssignUnassignedRequest, BulkAssignUnassignedResponse]
	listCodes            *connect.Client[ListCodesRequest, ListCodesResponse]
	listAgents           *connect.Client[ListAgentsRequest, ListAgentsResponse]
	redeemCode           *connect.Client[RedeemCodeRequest, RedeemCodeResponse]
	listRedemptions      *connect.Client[ListRedemptionsRequest, ListRedemptionsResponse]
	getReport            *connect.Client[GetReportRequest, GetReportResponse]
	listNotifications    *connect.Client[ListNotificationsRequest, ListNotificationsResponse]
	markNotificationRead *connect.Client[MarkNotificationReadRequest, MarkNotificationReadResponse]
}

// NewClient creates a client for the service at baseURL
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &Client{
		generateCodes:        connect.NewClient[GenerateCodesRequest, GenerateCodesResponse](httpClient, baseURL+GenerateCodesProcedure, opts...),
		assignCodes:          connect.NewClient[AssignCodesRequest, AssignCodesResponse](httpClient, baseURL+AssignCodesProcedure, opts...),
		bulkAssignUnassigned: connect.NewClient[BulkAssignUnassignedRequest, BulkAssignUnassignedResponse](httpClient, baseURL+BulkAssignUnassignedProcedure, opts...),
		listCodes:            connect.NewClient[ListCodesRequest, ListCodesResponse](httpClient, baseURL+ListCodesProcedure, opts...),
		listAgents:           connect.NewClient[ListAgentsRequest, ListAgentsResponse](httpClient, baseURL+ListAgentsProcedure, opts...),
		redeemCode:           connect.NewClient[RedeemCodeRequest, RedeemCodeResponse](httpClient, baseURL+RedeemCodeProcedure, opts...),
		listRedemptions:      connect.NewClient[ListRedemptionsRequest, ListRedemptionsResponse](httpClient, baseURL+ListRedemptionsProcedure, opts...),
		getReport:            connect.NewClient[GetReportRequest, GetReportResponse](httpClient, baseURL+GetReportProcedure, opts...),
		listNotifications:    connect.NewClient[ListNotificationsRequest, ListNotificationsResponse](httpClient, baseURL+ListNotificationsProcedure, opts...),
		markNotificationRead: connect.NewClient[MarkNotificationReadRequest, MarkNotificationReadResponse](httpClient, baseURL+MarkNotificationReadProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	res, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GenerateCodes(ctx context.Context, req *GenerateCodesRequest) (*GenerateCodesResponse, error) {
	return call(ctx, c.generateCodes, req)
}

func (c *Client) AssignCodes(ctx context.Context, req *AssignCodesRequest) (*AssignCodesResponse, error) {
	return call(ctx, c.assignCodes, req)
}

func (c *Client) BulkAssignUnassigned(ctx context.Context, req *BulkAssignUnassignedRequest) (*BulkAssignUnassignedResponse, error) {
	return call(ctx, c.bulkAssignUnassigned, req)
}

func (c *Client) ListCodes(ctx context.Context, req *ListCodesRequest) (*ListCodesResponse, error) {
	return call(ctx, c.listCodes, req)
}

func (c *Client) ListAgents(ctx context.Context) (*ListAgentsResponse, error) {
	return call(ctx, c.listAgents, &ListAgentsRequest{})
}

func (c *Client) RedeemCode(ctx context.Context, req *RedeemCodeRequest) (*RedeemCodeResponse, error) {
	return call(ctx, c.redeemCode, req)
}

func (c *Client) ListRedemptions(ctx context.Context, req *ListRedemptionsRequest) (*ListRedemptionsResponse, error) {
	return call(ctx, c.listRedemptions, req)
}

func (c *Client) GetReport(ctx context.Context) (*GetReportResponse, error) {
	return call(ctx, c.getReport, &GetReportRequest{})
}

func (c *Client) ListNotifications(ctx context.Context, req *ListNotificationsRequest) (*ListNotificationsResponse, error) {
	return call(ctx, c.listNotifications, req)
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := call(ctx, c.markNotificationRead, &MarkNotificationReadRequest{ID: id})
	return err
}
