package cmd

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/tracelight/tracelight/accel"
	"github.com/tracelight/tracelight/types"
)

// Benchmark BLAS/TLAS construction and traversal over a synthetic scene.
func Bench(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := LoadBenchConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	if n := ctx.Int("triangles"); n > 0 {
		cfg.Triangles = n
	}
	if n := ctx.Int("instances"); n > 0 {
		cfg.Instances = n
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	logger.Infof("generating mesh: %d triangles", cfg.Triangles)
	mesh := randomMesh(rng, cfg.Triangles)

	buildStart := time.Now()
	bvh := accel.NewBvh(mesh)
	bvh.Build()
	blasTime := time.Since(buildStart)

	instances := make([]accel.BvhInstance, cfg.Instances)
	for i := range instances {
		instances[i] = accel.NewBvhInstance(bvh, uint32(i))
		instances[i].SetTransform(randomTransform(rng))
	}

	tlas := accel.NewTlas(instances)

	var agglTime, quickTime, refitTime time.Duration
	for frame := 0; frame < cfg.Frames; frame++ {
		for i := range instances {
			instances[i].SetTransform(randomTransform(rng))
		}
		start := time.Now()
		tlas.Build()
		agglTime += time.Since(start)

		start = time.Now()
		tlas.BuildQuick()
		quickTime += time.Since(start)

		start = time.Now()
		bvh.Refit()
		refitTime += time.Since(start)
	}
	frames := time.Duration(cfg.Frames)

	tlas.Build()
	traceTime, hits := traceRays(rng, tlas, cfg.Rays)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Stage", "Nodes", "Time"})
	table.Append([]string{"BLAS build (binned SAH)", fmt.Sprintf("%d", bvh.NodesUsed), blasTime.String()})
	table.Append([]string{"BLAS refit", fmt.Sprintf("%d", bvh.NodesUsed), (refitTime / frames).String()})
	table.Append([]string{"TLAS build (agglomerative)", fmt.Sprintf("%d", tlas.NodesUsed), (agglTime / frames).String()})
	table.Append([]string{"TLAS build (quick)", fmt.Sprintf("%d", tlas.NodesUsed), (quickTime / frames).String()})
	table.Append([]string{fmt.Sprintf("trace %d rays (%d hits)", cfg.Rays, hits), "", traceTime.String()})
	table.Render()
	logger.Noticef("benchmark results\n%s", buf.String())

	return nil
}

// Random triangle soup: small triangles scattered through a cube, the
// synthetic workload used by the tests as well.
func randomMesh(rng *rand.Rand, count int) *accel.Mesh {
	tris := make([]accel.Triangle, count)
	for i := range tris {
		v0 := types.XYZ(rng.Float32()*9-5, rng.Float32()*9-5, rng.Float32()*9-5)
		tris[i] = accel.Triangle{
			V0: v0,
			V1: v0.Add(types.XYZ(rng.Float32(), rng.Float32(), rng.Float32())),
			V2: v0.Add(types.XYZ(rng.Float32(), rng.Float32(), rng.Float32())),
		}
	}
	return accel.NewMesh(tris)
}

func randomTransform(rng *rand.Rand) types.Mat4 {
	translate := mgl32.Translate3D(rng.Float32()*60-30, rng.Float32()*60-30, rng.Float32()*60-30)
	rotate := mgl32.HomogRotate3D(rng.Float32()*6.28318, mgl32.Vec3{0, 1, 0}.Normalize())
	scale := mgl32.Scale3D(0.2, 0.2, 0.2)
	return translate.Mul4(rotate).Mul4(scale)
}

func traceRays(rng *rand.Rand, tlas *accel.Tlas, count int) (time.Duration, int) {
	hits := 0
	start := time.Now()
	for i := 0; i < count; i++ {
		origin := types.XYZ(rng.Float32()*80-40, rng.Float32()*80-40, -100)
		ray := accel.NewRay(origin, types.XYZ(0, 0, 1))
		tlas.Intersect(&ray)
		if ray.Hit.T < 1e30 {
			hits++
		}
	}
	return time.Since(start), hits
}
