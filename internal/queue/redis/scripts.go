package redis

import "github.com/redis/go-redis/v9"

// Job hashes live at <prefix>job:<id>; the scripts build those keys from
// ARGV, so the backend targets a single Redis node, not a cluster.
//
// Sorted sets:
//
//	pending   waiting and delayed jobs, scored by run_at (ms)
//	delayed   delayed jobs only, scored by run_at (ms)
//	active    claimed jobs, scored by claim time (ms)
//	completed scored by finished_at (ms)
//	failed    scored by finished_at (ms)

// enqueueScript KEYS[1]=pending; ARGV: job key, id, run_at ms, then field/value pairs.
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", ARGV[1]) == 1 then
    return 0
end
local fields = {}
for i = 4, #ARGV do
    fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", ARGV[1], unpack(fields))
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[2])
return 1
`)

// claimScript KEYS[1]=pending KEYS[2]=delayed KEYS[3]=active;
// ARGV: job key prefix, now ms, now ns.
var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, 1)
if #ids == 0 then
    return false
end
local id = ids[1]
local key = ARGV[1] .. id
redis.call("ZREM", KEYS[1], id)
redis.call("ZREM", KEYS[2], id)
redis.call("ZADD", KEYS[3], ARGV[2], id)
redis.call("HSET", key, "state", "active", "updated_at", ARGV[3])
redis.call("HINCRBY", key, "attempts", 1)
return redis.call("HGETALL", key)
`)

// finishScript moves an active job to a terminal state.
// KEYS[1]=active KEYS[2]=target set;
// ARGV: job key, id, state, at ms, at ns, last error, set last error (0|1).
var finishScript = redis.NewScript(`
local state = redis.call("HGET", ARGV[1], "state")
if not state then
    return "notfound"
end
if state ~= "active" then
    return state
end
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[2])
redis.call("HSET", ARGV[1], "state", ARGV[3], "updated_at", ARGV[5], "finished_at", ARGV[5])
if ARGV[7] == "1" then
    redis.call("HSET", ARGV[1], "last_error", ARGV[6])
end
return "ok"
`)

// retryScript KEYS[1]=active KEYS[2]=pending KEYS[3]=delayed;
// ARGV: job key, id, run_at ms, run_at ns, last error, now ns.
var retryScript = redis.NewScript(`
local state = redis.call("HGET", ARGV[1], "state")
if not state then
    return "notfound"
end
if state ~= "active" then
    return state
end
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[2])
redis.call("HSET", ARGV[1], "state", "delayed", "run_at", ARGV[4], "last_error", ARGV[5], "updated_at", ARGV[6])
return "ok"
`)

// recoverScript KEYS[1]=active KEYS[2]=pending KEYS[3]=failed;
// ARGV: job key prefix, now ms, now ns, lost-worker message.
var recoverScript = redis.NewScript(`
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local requeued = 0
local failed = 0
for _, id in ipairs(ids) do
    local key = ARGV[1] .. id
    local attempts = tonumber(redis.call("HGET", key, "attempts") or "0")
    local max = tonumber(redis.call("HGET", key, "max_attempts") or "0")
    if attempts >= max then
        redis.call("HSET", key, "state", "failed", "updated_at", ARGV[3], "finished_at", ARGV[3])
        local last = redis.call("HGET", key, "last_error")
        if not last or last == "" then
            redis.call("HSET", key, "last_error", ARGV[4])
        end
        redis.call("ZADD", KEYS[3], ARGV[2], id)
        failed = failed + 1
    else
        redis.call("HSET", key, "state", "waiting", "run_at", ARGV[3], "updated_at", ARGV[3])
        redis.call("ZADD", KEYS[2], ARGV[2], id)
        requeued = requeued + 1
    end
end
redis.call("DEL", KEYS[1])
return {requeued, failed}
`)

// trimScript KEYS[1]=terminal set; ARGV: job key prefix, keep.
var trimScript = redis.NewScript(`
local excess = redis.call("ZCARD", KEYS[1]) - tonumber(ARGV[2])
if excess <= 0 then
    return 0
end
local ids = redis.call("ZRANGE", KEYS[1], 0, excess - 1)
for _, id in ipairs(ids) do
    redis.call("DEL", ARGV[1] .. id)
end
redis.call("ZREMRANGEBYRANK", KEYS[1], 0, excess - 1)
return excess
`)
