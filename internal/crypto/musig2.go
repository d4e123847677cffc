package crypto

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

// MuSig2Engine 基于 btcec musig2 的 n-of-n 签名引擎实现
type MuSig2Engine struct {
	priv   *btcec.PrivateKey
	params *chaincfg.Params

	mu       sync.Mutex
	sessions map[string]*engineSession
}

type engineSession struct {
	ctx      *musig2.Context
	sess     *musig2.Session
	combined *btcec.PublicKey
}

var _ Engine = (*MuSig2Engine)(nil)

// NewMuSig2Engine 创建签名引擎。identityKeyHex 为空时生成随机私钥
func NewMuSig2Engine(identityKeyHex string, params *chaincfg.Params) (*MuSig2Engine, error) {
	var priv *btcec.PrivateKey
	if identityKeyHex == "" {
		var err error
		priv, err = btcec.NewPrivateKey()
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate identity key")
		}
	} else {
		raw, err := hex.DecodeString(identityKeyHex)
		if err != nil || len(raw) != 32 {
			return nil, errors.Wrap(ErrInvalidKey, "identity key must be 32 bytes hex")
		}
		priv, _ = btcec.PrivKeyFromBytes(raw)
	}

	if params == nil {
		params = &chaincfg.MainNetParams
	}

	return &MuSig2Engine{
		priv:     priv,
		params:   params,
		sessions: make(map[string]*engineSession),
	}, nil
}

// PublicKeyHex 本地签名公钥
func (e *MuSig2Engine) PublicKeyHex() string {
	return hex.EncodeToString(e.priv.PubKey().SerializeCompressed())
}

// AggregateKeys 聚合参与者公钥并派生 taproot 地址
func (e *MuSig2Engine) AggregateKeys(participantKeys []string) (*AggregatedKey, error) {
	keys, err := parsePubKeys(participantKeys)
	if err != nil {
		return nil, err
	}

	aggKey, _, _, err := musig2.AggregateKeys(keys, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to aggregate keys")
	}

	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(aggKey.FinalKey), e.params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive address")
	}

	return &AggregatedKey{
		PublicKeyHex: hex.EncodeToString(aggKey.FinalKey.SerializeCompressed()),
		Address:      addr.EncodeAddress(),
	}, nil
}

// StartSession 创建会话并生成本地 nonce
func (e *MuSig2Engine) StartSession(sessionID string, participantKeys []string) (string, error) {
	keys, err := parsePubKeys(participantKeys)
	if err != nil {
		return "", err
	}

	selfHex := e.PublicKeyHex()
	found := false
	for _, k := range participantKeys {
		if k == selfHex {
			found = true
			break
		}
	}
	if !found {
		return "", ErrSelfNotParticipant
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[sessionID]; ok {
		return "", ErrSessionExists
	}

	signCtx, err := musig2.NewContext(e.priv, true, musig2.WithKnownSigners(keys))
	if err != nil {
		return "", errors.Wrap(err, "failed to create musig2 context")
	}

	sess, err := signCtx.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "failed to create musig2 session")
	}

	combined, err := signCtx.CombinedKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to compute combined key")
	}

	e.sessions[sessionID] = &engineSession{
		ctx:      signCtx,
		sess:     sess,
		combined: combined,
	}

	nonce := sess.PublicNonce()
	return hex.EncodeToString(nonce[:]), nil
}

// RegisterNonce 登记远端 nonce
func (e *MuSig2Engine) RegisterNonce(sessionID string, pubNonceHex string) (bool, error) {
	raw, err := hex.DecodeString(pubNonceHex)
	if err != nil || len(raw) != musig2.PubNonceSize {
		return false, ErrInvalidNonce
	}

	es, err := e.session(sessionID)
	if err != nil {
		return false, err
	}

	var nonce [musig2.PubNonceSize]byte
	copy(nonce[:], raw)

	haveAll, err := es.sess.RegisterPubNonce(nonce)
	if err != nil {
		return false, errors.Wrap(err, "failed to register nonce")
	}
	return haveAll, nil
}

// PartialSign 生成本地分片签名
func (e *MuSig2Engine) PartialSign(sessionID string, msgHash32 []byte) (string, error) {
	if len(msgHash32) != 32 {
		return "", errors.New("message hash must be 32 bytes")
	}

	es, err := e.session(sessionID)
	if err != nil {
		return "", err
	}

	var msg [32]byte
	copy(msg[:], msgHash32)

	partial, err := es.sess.Sign(msg)
	if err != nil {
		return "", errors.Wrap(err, "failed to produce partial signature")
	}

	var buf bytes.Buffer
	if err := partial.Encode(&buf); err != nil {
		return "", errors.Wrap(err, "failed to encode partial signature")
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// CombinePartial 合并远端分片签名
func (e *MuSig2Engine) CombinePartial(sessionID string, partialSigHex string) (bool, error) {
	raw, err := hex.DecodeString(partialSigHex)
	if err != nil {
		return false, ErrInvalidSignature
	}

	es, err := e.session(sessionID)
	if err != nil {
		return false, err
	}

	var partial musig2.PartialSignature
	if err := partial.Decode(bytes.NewReader(raw)); err != nil {
		return false, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	haveAll, err := es.sess.CombineSig(&partial)
	if err != nil {
		return false, errors.Wrap(err, "failed to combine partial signature")
	}
	return haveAll, nil
}

// FinalSignature 返回聚合后的最终签名
func (e *MuSig2Engine) FinalSignature(sessionID string) (string, error) {
	es, err := e.session(sessionID)
	if err != nil {
		return "", err
	}

	sig := es.sess.FinalSig()
	if sig == nil {
		return "", errors.New("final signature not yet available")
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyFinal 用聚合公钥校验最终签名
func (e *MuSig2Engine) VerifyFinal(sessionID string, msgHash32 []byte, sigHex string) (bool, error) {
	es, err := e.session(sessionID)
	if err != nil {
		return false, err
	}

	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, ErrInvalidSignature
	}

	sig, err := schnorr.ParseSignature(raw)
	if err != nil {
		return false, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	return sig.Verify(msgHash32, es.combined), nil
}

// EndSession 丢弃会话状态
func (e *MuSig2Engine) EndSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

func (e *MuSig2Engine) session(sessionID string) (*engineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	es, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return es, nil
}

func parsePubKeys(participantKeys []string) ([]*btcec.PublicKey, error) {
	if len(participantKeys) == 0 {
		return nil, errors.Wrap(ErrInvalidKey, "participant set is empty")
	}

	keys := make([]*btcec.PublicKey, 0, len(participantKeys))
	for _, k := range participantKeys {
		raw, err := hex.DecodeString(k)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidKey, "bad hex: %s", k)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidKey, "bad pubkey: %s", k)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}
