package renderer

// TileShader draws textured tile quads. Vertices arrive in NDC with the
// rotation already applied; geo carries lon/lat for the city mask.
const TileShader = `
struct VertexInput {
    @location(0) position: vec2<f32>,
    @location(1) texCoord: vec2<f32>,
    @location(2) geo: vec2<f32>,
}

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) texCoord: vec2<f32>,
    @location(1) geo: vec2<f32>,
}

struct MaskParams {
    radiusPercent: f32, // 0-100
    enableMask: f32,    // 1.0 = enabled
    cityCount: f32,
    baseRadius: f32,    // degrees
}

struct City {
    pos: vec2<f32>, // lon, lat
    radius: f32,
    _padding: f32,
}

@group(0) @binding(0) var<uniform> mask: MaskParams;
@group(0) @binding(1) var tileSampler: sampler;
@group(0) @binding(2) var tileTexture: texture_2d<f32>;
@group(0) @binding(3) var<storage, read> cities: array<City>;

@vertex
fn vs_main(in: VertexInput) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(in.position, 0.0, 1.0);
    out.texCoord = in.texCoord;
    out.geo = in.geo;
    return out;
}

fn geoDistance(p1: vec2<f32>, p2: vec2<f32>) -> f32 {
    let latScale = cos(radians((p1.y + p2.y) * 0.5));
    let dx = (p2.x - p1.x) * latScale;
    let dy = p2.y - p1.y;
    return sqrt(dx * dx + dy * dy);
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let texColor = textureSample(tileTexture, tileSampler, in.texCoord);
    if (mask.enableMask < 0.5 || mask.radiusPercent >= 99.9) {
        return texColor;
    }

    let fog = vec4<f32>(0.75, 0.8, 0.85, 1.0);
    if (mask.radiusPercent <= 0.1) {
        return fog;
    }

    var minDist: f32 = 1000.0;
    let count = i32(mask.cityCount);
    for (var i: i32 = 0; i < count; i = i + 1) {
        let city = cities[i];
        minDist = min(minDist, geoDistance(in.geo, city.pos) / max(city.radius, 0.1));
    }

    let radius = mask.baseRadius * (mask.radiusPercent / 100.0);
    let fade = smoothstep(radius, radius * 0.8, minDist);
    return mix(fog, texColor, fade);
}
`
