package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LandSureABI is the interface of the LandSure registry contract.
const LandSureABI = `[
  {
    "type": "function",
    "name": "registerCertificate",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "certificateId", "type": "string"},
      {"name": "mainOwner", "type": "address"},
      {"name": "totalArea", "type": "uint256"},
      {"name": "numberOfTokens", "type": "uint256"},
      {"name": "certificateHash", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getCertificate",
    "stateMutability": "view",
    "inputs": [
      {"name": "certificateId", "type": "string"}
    ],
    "outputs": [
      {"name": "certificateId", "type": "string"},
      {"name": "mainOwner", "type": "address"},
      {"name": "totalArea", "type": "uint256"},
      {"name": "numberOfTokens", "type": "uint256"},
      {"name": "certificateHash", "type": "bytes32"},
      {"name": "tokenIds", "type": "uint256[]"}
    ]
  },
  {
    "type": "function",
    "name": "getToken",
    "stateMutability": "view",
    "inputs": [
      {"name": "tokenId", "type": "uint256"}
    ],
    "outputs": [
      {"name": "tokenId", "type": "uint256"},
      {"name": "certificateId", "type": "string"},
      {"name": "currentOwner", "type": "address"},
      {"name": "burned", "type": "bool"}
    ]
  },
  {
    "type": "event",
    "name": "CertificateRegistered",
    "anonymous": false,
    "inputs": [
      {"name": "certificateId", "type": "string", "indexed": false},
      {"name": "mainOwner", "type": "address", "indexed": true},
      {"name": "numberOfTokens", "type": "uint256", "indexed": false}
    ]
  }
]`

var landSureABI = mustParseABI(LandSureABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
