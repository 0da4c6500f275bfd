package daemon

// BlockchainInfo mirrors bitcoind's getblockchaininfo response, trimmed to
// the fields HeaderChain and the indexer actually consult.
type BlockchainInfo struct {
	Chain                string `json:"chain"`
	Blocks               int64  `json:"blocks"`
	Headers              int64  `json:"headers"`
	BestBlockHash        string `json:"bestblockhash"`
	InitialBlockDownload bool   `json:"initialblockdownload"`
}

// RawBlockHeader mirrors getblockheader(verbose=true).
type RawBlockHeader struct {
	Hash         string `json:"hash"`
	Height       int64  `json:"height"`
	Version      int32  `json:"version"`
	PreviousHash string `json:"previousblockhash"`
	MerkleRoot   string `json:"merkleroot"`
	Time         int64  `json:"time"`
	Bits         string `json:"bits"`
	Nonce        uint32 `json:"nonce"`
}

// MempoolEntry mirrors getmempoolentry, trimmed to the fields the Mempool
// tracker consumes.
type MempoolEntry struct {
	Fee           float64  `json:"fee"`
	VSize         int64    `json:"vsize"`
	AncestorCount int64    `json:"ancestorcount"`
	Depends       []string `json:"depends"`
}
