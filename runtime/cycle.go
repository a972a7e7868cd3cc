package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/sbl8/harmonics/device"
	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/internal/hlog"
	"github.com/sbl8/harmonics/ir"
	"github.com/sbl8/harmonics/kernel"
	"github.com/sbl8/harmonics/kernel/cache"
	"github.com/sbl8/harmonics/kernel/compiler"
	"github.com/sbl8/harmonics/kernel/registry"
	"github.com/sbl8/harmonics/metrics"
	"github.com/sbl8/harmonics/policy"
	"github.com/sbl8/harmonics/tensor"
)

// Deployment is the construction-time descriptor: the requested backend,
// secure-mode flag, and the hardware capabilities precision policies
// consult. config.LoadDeployment produces one of these from a YAML
// document.
type Deployment struct {
	Backend device.Backend
	Secure  bool
	HW      policy.HardwareCaps
}

// DebugFunc is invoked for every op CycleRuntime executes, receiving the
// op's endpoints, the tensor it produced, the backward flag, and the
// function name if one was attached.
type DebugFunc func(src, dst ir.NodeID, t tensor.Tensor, backward bool, function string, hasFunc bool)

// CycleRuntime is the central scheduled evaluator: forward passes,
// training taps, secure chain-of-custody, and checkpointing over a
// compiled graph.
type CycleRuntime struct {
	graph         *ir.Graph
	policy        policy.Policy
	hw            policy.HardwareCaps
	registry      *registry.Registry
	ops           []compiler.Op
	state         *CycleState
	graphRevision uint64
	namesSnapshot map[string]ir.NodeID

	devices  *device.Registry
	adapter  device.Adapter
	secure   bool

	producers map[uint32]Producer
	consumers map[uint32]Consumer

	debugFn DebugFunc
	pool    *workerPool

	trainCfg  TrainConfig
	optStates map[uint32]*optimizerState

	accumGrads       map[uint32]float64
	cyclesSinceApply int
	updatesApplied   int
	lastLoss         float64
	sawLoss          bool

	compressCheckpoints bool

	mu sync.Mutex // serializes Forward/Fit: weight updates never race a forward pass
}

// compileCache memoises flattened op plans across concurrent runtimes:
// two runtimes over the same graph and policy share one plan.
var compileCache = cache.NewCompileCache()

// New constructs a CycleRuntime over g under policy p and deployment dep.
// Precision bits are resolved once per layer, the effective backend is
// resolved (falling back to CPU when the requested backend's adapter is
// absent), and when dep.Secure is set the chain hash starts at zero.
func New(g *ir.Graph, p policy.Policy, reg *registry.Registry, devices *device.Registry, dep Deployment) (*CycleRuntime, error) {
	key := cache.Key(compiler.GraphDigest(g), compiler.PolicyDigest(g, p, dep.HW))
	ops, ok := compileCache.Get(key)
	if !ok {
		var err error
		ops, err = compiler.Compile(g, p, dep.HW)
		if err != nil {
			return nil, err
		}
		compileCache.Put(key, ops)
	}
	state := NewCycleState(g)
	for i := range g.Layers {
		state.PrecisionBits[i] = p.BitsFor(uint32(i), dep.HW)
	}

	adapter, effective, err := devices.Resolve(dep.Backend)
	if err != nil {
		hlog.For("runtime").WithField("requested", dep.Backend).WithField("effective", effective).
			Warn("backend unavailable, downgrading")
	}
	state.EffectiveBackend = effective

	rt := &CycleRuntime{
		graph:         g,
		policy:        p,
		hw:            dep.HW,
		registry:      reg,
		ops:           ops,
		state:         state,
		graphRevision: g.Revision,
		namesSnapshot: snapshotNames(g),
		devices:       devices,
		adapter:       adapter,
		secure:        dep.Secure,
		producers:     map[uint32]Producer{},
		consumers:     map[uint32]Consumer{},
		trainCfg:      DefaultTrainConfig(),
		optStates:     map[uint32]*optimizerState{},
		accumGrads:    map[uint32]float64{},
	}
	return rt, nil
}

// State returns the runtime's live CycleState.
func (rt *CycleRuntime) State() *CycleState { return rt.state }

// EffectiveBackend reports the backend actually in use.
func (rt *CycleRuntime) EffectiveBackend() device.Backend { return rt.state.EffectiveBackend }

// BindProducer attaches a Producer to a declared producer node, checking
// the declared-width invariant lazily on first pull
// since bindings carry no advertised shape up front.
func (rt *CycleRuntime) BindProducer(name string, p Producer) error {
	id, ok := rt.graph.Lookup(name)
	if !ok || id.Kind != ir.KindProducer {
		return &herr.UnresolvedNameError{Name: name}
	}
	rt.producers[id.Index] = p
	return nil
}

// BindConsumer attaches a Consumer to a declared consumer node.
func (rt *CycleRuntime) BindConsumer(name string, c Consumer) error {
	id, ok := rt.graph.Lookup(name)
	if !ok || id.Kind != ir.KindConsumer {
		return &herr.UnresolvedNameError{Name: name}
	}
	rt.consumers[id.Index] = c
	return nil
}

// SetDebugFunc installs a debug callback invoked for every executed op.
func (rt *CycleRuntime) SetDebugFunc(fn DebugFunc) { rt.debugFn = fn }

// EnableMultiThreading switches per-line arrow dispatch onto a shared
// worker pool: arrows within one cycle line run concurrently, but line
// order is still preserved across the cycle.
func (rt *CycleRuntime) EnableMultiThreading(workers int) {
	rt.pool = newWorkerPool(workers)
}

func (rt *CycleRuntime) checkBoundShape(id ir.NodeID, t tensor.Tensor) error {
	node := rt.graph.NodeAt(id)
	if node == nil || !node.HasWidth || t.Empty() {
		return nil
	}
	if len(t.Shape) == 0 || t.Shape[len(t.Shape)-1] != node.Width {
		return &herr.ShapeMismatchError{Node: rt.graph.Name(id), Declared: node.Width, Got: t.Shape}
	}
	return nil
}

func chainStep(prev [32]byte, encoding []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(prev[:])
	h.Write(encoding)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func encodeOp(op compiler.Op) []byte {
	var b []byte
	b = append(b, byte(op.Source.Kind), byte(op.Target.Kind))
	b = appendUint32(b, op.Source.Index)
	b = appendUint32(b, op.Target.Index)
	if op.Backward {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = append(b, op.Bits)
	b = append(b, []byte(op.Function)...)
	return b
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// Forward runs exactly one cycle over the bound producers:
// resolves each line's source per the branching/sampling rule, applies
// forward arrows (activation or layer transform) or backward arrows
// (loss + lazily-allocated weight + optimiser update), and — when Secure —
// advances the chain hash. A mid-cycle error aborts without applying any
// pending weight update.
func (rt *CycleRuntime) Forward(ctx context.Context) (*CycleState, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	// A graph edit since the last pass bumps Revision; re-synchronise the
	// plan and state vectors before executing against stale indices.
	if err := rt.syncLocked(); err != nil {
		return nil, err
	}
	return rt.forwardLocked(ctx)
}

func (rt *CycleRuntime) forwardLocked(ctx context.Context) (*CycleState, error) {
	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	sampled := map[int]tensor.Tensor{}
	var pendingWeights []func()
	cycleLoss := 0.0
	sawLoss := false
	localHash := rt.state.ChainHash

	groups := groupByLine(rt.ops)
	for _, grp := range groups {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		src, err := rt.resolveSource(grp[0], sampled)
		if err != nil {
			return nil, err
		}

		results := make([]opResult, len(grp))
		exec := func(i int) {
			results[i] = rt.execOp(grp[i], src)
		}

		if rt.pool != nil && len(grp) > 1 {
			rt.pool.runAll(len(grp), exec)
		} else {
			for i := range grp {
				exec(i)
			}
		}

		for i, op := range grp {
			res := results[i]
			if res.err != nil {
				return nil, res.err
			}
			if op.Backward {
				pendingWeights = append(pendingWeights, res.commit)
				cycleLoss += res.loss
				sawLoss = true
			}
			if rt.secure {
				localHash = chainStep(localHash, encodeOp(op))
			}
			if rt.debugFn != nil {
				rt.debugFn(op.Source, op.Target, res.out, op.Backward, op.Function, op.HasFunc)
			}
		}
	}

	for _, f := range pendingWeights {
		if f != nil {
			f()
		}
	}
	if sawLoss {
		rt.lastLoss = cycleLoss
		rt.sawLoss = true
		rt.cyclesSinceApply++
		every := rt.trainCfg.AccumulateSteps
		if every < 1 {
			every = 1
		}
		if rt.cyclesSinceApply >= every {
			updated := rt.applyAccumulated(rt.trainCfg, rt.cyclesSinceApply)
			rt.cyclesSinceApply = 0
			rt.updatesApplied++
			metrics.UpdatesApplied.Add(float64(updated))
		}
	}
	rt.state.ChainHash = localHash
	return rt.state, nil
}

// groupByLine partitions the flat Op list into runs sharing one LineSeq, so
// EnableMultiThreading can fan arrows of a single line out in parallel
// while line-to-line order stays sequential.
func groupByLine(ops []compiler.Op) [][]compiler.Op {
	var groups [][]compiler.Op
	var cur []compiler.Op
	curSeq := -1
	for _, op := range ops {
		if op.LineSeq != curSeq {
			if cur != nil {
				groups = append(groups, cur)
			}
			cur = nil
			curSeq = op.LineSeq
		}
		cur = append(cur, op)
	}
	if cur != nil {
		groups = append(groups, cur)
	}
	return groups
}

func (rt *CycleRuntime) resolveSource(op compiler.Op, sampled map[int]tensor.Tensor) (tensor.Tensor, error) {
	switch op.Source.Kind {
	case ir.KindProducer:
		if t, ok := sampled[op.SampleGroup]; ok {
			return t, nil
		}
		p, ok := rt.producers[op.Source.Index]
		if !ok {
			return tensor.Tensor{}, &herr.MissingBindingError{Node: rt.graph.Name(op.Source)}
		}
		t, err := p.Next()
		if err != nil {
			return tensor.Tensor{}, err
		}
		if err := rt.checkBoundShape(op.Source, t); err != nil {
			return tensor.Tensor{}, err
		}
		rt.state.ProducerTensors[op.Source.Index] = t
		sampled[op.SampleGroup] = t
		return t, nil
	case ir.KindLayer:
		return rt.state.LayerTensors[op.Source.Index], nil
	case ir.KindConsumer:
		return rt.state.ConsumerTensors[op.Source.Index], nil
	default:
		return tensor.Tensor{}, fmt.Errorf("runtime: unknown node kind %v", op.Source.Kind)
	}
}

type opResult struct {
	out    tensor.Tensor
	err    error
	loss   float64
	commit func()
}

func (rt *CycleRuntime) execOp(op compiler.Op, src tensor.Tensor) opResult {
	if op.Backward {
		return rt.execBackward(op, src)
	}
	return rt.execForward(op, src)
}

func (rt *CycleRuntime) execForward(op compiler.Op, src tensor.Tensor) opResult {
	out := src
	if op.HasFunc {
		fn, _, err := rt.registry.Resolve(op.Function)
		if err != nil {
			return opResult{err: err}
		}
		result, err := rt.dispatch(fn, src, op.Bits)
		if err != nil {
			return opResult{err: err}
		}
		out = result
	}
	rt.writeTarget(op.Target, out)
	return opResult{out: out}
}

// dispatch applies fn, round-tripping through the device adapter when the
// effective backend is non-CPU. Semantics
// must be bit-identical across backends; the stub
// adapters here are identity-preserving by construction.
func (rt *CycleRuntime) dispatch(fn kernel.Fn, in tensor.Tensor, bits uint8) (tensor.Tensor, error) {
	if rt.state.EffectiveBackend == device.CPU || rt.adapter == nil {
		return fn(in, bits)
	}
	handle, err := rt.adapter.ToDevice(in)
	if err != nil {
		return fn(in, bits)
	}
	hosted, err := rt.adapter.ToHost(handle)
	if err != nil {
		return fn(in, bits)
	}
	return fn(hosted, bits)
}

func (rt *CycleRuntime) writeTarget(id ir.NodeID, t tensor.Tensor) {
	switch id.Kind {
	case ir.KindProducer:
		rt.state.ProducerTensors[id.Index] = t
	case ir.KindConsumer:
		rt.state.ConsumerTensors[id.Index] = t
		if c, ok := rt.consumers[id.Index]; ok {
			_ = c.Push(t)
		}
	case ir.KindLayer:
		rt.state.LayerTensors[id.Index] = t
	}
}

func (rt *CycleRuntime) execBackward(op compiler.Op, src tensor.Tensor) opResult {
	lossFn, err := rt.registry.Loss(op.Function)
	if err != nil {
		return opResult{err: err}
	}
	label := rt.state.ProducerTensors[op.Target.Index]
	grad, err := lossFn(src, label, op.Bits)
	if err != nil {
		return opResult{err: err}
	}

	layerIdx := op.Source.Index
	shape := append([]uint32(nil), src.Shape...)
	kind := src.Kind
	gradVal := float64(scalarOf(grad))

	commit := func() {
		rt.ensureWeight(layerIdx, kind, shape)
		rt.accumulateGradient(layerIdx, gradVal)
	}
	return opResult{out: grad, loss: gradVal, commit: commit}
}

func scalarOf(t tensor.Tensor) float32 {
	fs, err := t.Float32s()
	if err != nil || len(fs) == 0 {
		return 0
	}
	sum := float32(0)
	for _, f := range fs {
		sum += f
	}
	return sum / float32(len(fs))
}

// ensureWeight allocates the layer's weight slot on first use. The slot is
// always sized to the layer's own output shape, including for a layer that
// receives several forward inputs before its training tap fires.
func (rt *CycleRuntime) ensureWeight(layerIdx uint32, kind tensor.Kind, shape []uint32) {
	if !rt.state.Weights[layerIdx].Empty() {
		return
	}
	elems := uint64(1)
	for _, d := range shape {
		elems *= uint64(d)
	}
	if elems == 0 {
		elems = 1
	}
	rt.state.Weights[layerIdx] = tensor.Tensor{
		Kind:  kind,
		Shape: shape,
		Data:  make([]byte, elems*uint64(kind.ElementSize())),
	}
}

// Proof returns the hex-encoded secure-mode chain hash.
func (rt *CycleRuntime) Proof() string {
	return fmt.Sprintf("%x", rt.state.ChainHash)
}

// VerifyChain re-derives the chain hash starting from prev and compares
// against the runtime's current chain hash.
func (rt *CycleRuntime) VerifyChain(prev [32]byte) bool {
	h := prev
	for _, op := range rt.ops {
		h = chainStep(h, encodeOp(op))
	}
	return h == rt.state.ChainHash
}

// Inference runs one forward pass and returns the resulting CycleState.
func (rt *CycleRuntime) Inference(ctx context.Context) (*CycleState, error) {
	return rt.Forward(ctx)
}
