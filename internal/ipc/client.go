package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"imaginer/internal/api"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to finish the active job as failed and exit.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// QueueList returns the pending, active, and completed jobs.
func (c *Client) QueueList() (*QueueListResponse, error) {
	return call[QueueListResponse](c, "QueueList", QueueListRequest{})
}

// QueueAdd enqueues a job and returns its id.
func (c *Client) QueueAdd(job api.JobRequest) (*QueueAddResponse, error) {
	return call[QueueAddResponse](c, "QueueAdd", QueueAddRequest{Job: job})
}

// QueueCancel removes a pending job.
func (c *Client) QueueCancel(id string) (*QueueCancelResponse, error) {
	return call[QueueCancelResponse](c, "QueueCancel", QueueCancelRequest{ID: id})
}

// QueueClear drops every pending job.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	return call[QueueClearResponse](c, "QueueClear", QueueClearRequest{})
}

// QueueForget removes a finished job from history.
func (c *Client) QueueForget(id string) (*QueueForgetResponse, error) {
	return call[QueueForgetResponse](c, "QueueForget", QueueForgetRequest{ID: id})
}

// Reclaim releases backend models and memory now.
func (c *Client) Reclaim() (*ReclaimResponse, error) {
	return call[ReclaimResponse](c, "Reclaim", ReclaimRequest{})
}

// Interrupt aborts the active generation.
func (c *Client) Interrupt() (*InterruptResponse, error) {
	return call[InterruptResponse](c, "Interrupt", InterruptRequest{})
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
