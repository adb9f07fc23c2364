package service

import (
	"context"

	"connectrpc.com/connect"
)

// ReconcileServiceClient calls ReconcileService over Connect with the JSON codec.
type ReconcileServiceClient struct {
	reconcile         *connect.Client[ReconcileRequest, ReconcileResponse]
	confirmMatch      *connect.Client[ConfirmMatchRequest, ConfirmMatchResponse]
	parseMessage      *connect.Client[ParseMessageRequest, ParseMessageResponse]
	submitMessage     *connect.Client[SubmitMessageRequest, SubmitMessageResponse]
	resyncTransaction *connect.Client[ResyncTransactionRequest, ResyncTransactionResponse]
	getBalance        *connect.Client[GetBalanceRequest, GetBalanceResponse]
	getStatement      *connect.Client[GetStatementRequest, GetStatementResponse]
	initiatePayment   *connect.Client[InitiatePaymentRequest, InitiatePaymentResponse]
}

// NewReconcileServiceClient creates a client for the service at baseURL.
func NewReconcileServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ReconcileServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &ReconcileServiceClient{
		reconcile:         connect.NewClient[ReconcileRequest, ReconcileResponse](httpClient, baseURL+ReconcileProcedure, opts...),
		confirmMatch:      connect.NewClient[ConfirmMatchRequest, ConfirmMatchResponse](httpClient, baseURL+ConfirmMatchProcedure, opts...),
		parseMessage:      connect.NewClient[ParseMessageRequest, ParseMessageResponse](httpClient, baseURL+ParseMessageProcedure, opts...),
		submitMessage:     connect.NewClient[SubmitMessageRequest, SubmitMessageResponse](httpClient, baseURL+SubmitMessageProcedure, opts...),
		resyncTransaction: connect.NewClient[ResyncTransactionRequest, ResyncTransactionResponse](httpClient, baseURL+ResyncTransactionProcedure, opts...),
		getBalance:        connect.NewClient[GetBalanceRequest, GetBalanceResponse](httpClient, baseURL+GetBalanceProcedure, opts...),
		getStatement:      connect.NewClient[GetStatementRequest, GetStatementResponse](httpClient, baseURL+GetStatementProcedure, opts...),
		initiatePayment:   connect.NewClient[InitiatePaymentRequest, InitiatePaymentResponse](httpClient, baseURL+InitiatePaymentProcedure, opts...),
	}
}

func (c *ReconcileServiceClient) Reconcile(ctx context.Context, req *connect.Request[ReconcileRequest]) (*connect.Response[ReconcileResponse], error) {
	return c.reconcile.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) ConfirmMatch(ctx context.Context, req *connect.Request[ConfirmMatchRequest]) (*connect.Response[ConfirmMatchResponse], error) {
	return c.confirmMatch.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) ParseMessage(ctx context.Context, req *connect.Request[ParseMessageRequest]) (*connect.Response[ParseMessageResponse], error) {
	return c.parseMessage.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) SubmitMessage(ctx context.Context, req *connect.Request[SubmitMessageRequest]) (*connect.Response[SubmitMessageResponse], error) {
	return c.submitMessage.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) ResyncTransaction(ctx context.Context, req *connect.Request[ResyncTransactionRequest]) (*connect.Response[ResyncTransactionResponse], error) {
	return c.resyncTransaction.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) GetBalance(ctx context.Context, req *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error) {
	return c.getBalance.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) GetStatement(ctx context.Context, req *connect.Request[GetStatementRequest]) (*connect.Response[GetStatementResponse], error) {
	return c.getStatement.CallUnary(ctx, req)
}

func (c *ReconcileServiceClient) InitiatePayment(ctx context.Context, req *connect.Request[InitiatePaymentRequest]) (*connect.Response[InitiatePaymentResponse], error) {
	return c.initiatePayment.CallUnary(ctx, req)
}
