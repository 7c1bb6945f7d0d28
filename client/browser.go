package client

import (
	"github.com/boddie-obex/obex/header"
	"github.com/boddie-obex/obex/message"
)

// folderBrowsingUUID is the Bluetooth SIG UUID for the OBEX File Transfer
// profile, sent as the Target header on connect.
var folderBrowsingUUID = []byte{
	0xF9, 0xEC, 0x7B, 0xC4, 0x95, 0x3C, 0x11, 0xD2,
	0x98, 0x4E, 0x52, 0x54, 0x00, 0xDC, 0x9E, 0x09,
}

// FolderBrowser is a Client specialized for the OBEX folder-browsing
// service: Connect always advertises the File Transfer Target UUID, and
// Capability/ListDir wrap the corresponding GET requests.
type FolderBrowser struct {
	*Client
}

// NewFolderBrowser wraps a Client for addr as a FolderBrowser.
func NewFolderBrowser(addr string) *FolderBrowser {
	return &FolderBrowser{Client: New(addr)}
}

// Connect sends CONNECT with the File Transfer Target UUID ahead of any
// caller-supplied headers.
func (b *FolderBrowser) Connect(headerList ...header.Header) (*message.Response, error) {
	all := append([]header.Header{header.NewBytes(header.Target, folderBrowsingUUID)}, headerList...)
	return b.Client.Connect(all...)
}

// Capability fetches the server's x-obex/capability object.
func (b *FolderBrowser) Capability() (*message.Response, []byte, error) {
	resp, _, body, err := b.Client.Get("", []header.Header{header.NewType([]byte("x-obex/capability"))}, nil)
	return resp, body, err
}

// ListDir fetches an x-obex/folder-listing XML document describing name
// (or the current directory, if name is empty).
func (b *FolderBrowser) ListDir(name string) (*message.Response, []byte, error) {
	resp, _, body, err := b.Client.Get(name, []header.Header{header.NewType([]byte("x-obex/folder-listing"))}, nil)
	return resp, body, err
}

// irmcSyncTarget and syncMLTarget are the Target header values the
// corresponding synchronization profiles expect on connect.
var (
	irmcSyncTarget = []byte("IRMC-SYNC")
	syncMLTarget   = []byte("SYNCML-SYNC")
)

// SyncClient is a Client specialized for the IrMC Sync profile: Connect
// always advertises the IRMC-SYNC Target UUID.
type SyncClient struct {
	*Client
}

// NewSyncClient wraps a Client for addr as a SyncClient.
func NewSyncClient(addr string) *SyncClient {
	return &SyncClient{Client: New(addr)}
}

// Connect sends CONNECT with the IRMC-SYNC Target header ahead of any
// caller-supplied headers.
func (s *SyncClient) Connect(headerList ...header.Header) (*message.Response, error) {
	all := append([]header.Header{header.NewBytes(header.Target, irmcSyncTarget)}, headerList...)
	return s.Client.Connect(all...)
}

// SyncMLClient is a Client specialized for the SyncML-over-OBEX profile:
// Connect always advertises the SYNCML-SYNC Target UUID.
type SyncMLClient struct {
	*Client
}

// NewSyncMLClient wraps a Client for addr as a SyncMLClient.
func NewSyncMLClient(addr string) *SyncMLClient {
	return &SyncMLClient{Client: New(addr)}
}

// Connect sends CONNECT with the SYNCML-SYNC Target header ahead of any
// caller-supplied headers.
func (s *SyncMLClient) Connect(headerList ...header.Header) (*message.Response, error) {
	all := append([]header.Header{header.NewBytes(header.Target, syncMLTarget)}, headerList...)
	return s.Client.Connect(all...)
}
