package queue

import r "github.com/redis/go-redis/v9"

// KEYS: job, ready, ids, reserved. ARGV: id, body, due score.
var createScript = r.NewScript(`
if redis.call('SADD', KEYS[4], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'body', ARGV[2], 'due', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

// KEYS: job, ready, leased. ARGV: id, owner, expiration score, expiration text.
var leaseScript = r.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HEXISTS', KEYS[1], 'owner') == 1 then return 0 end
redis.call('HSET', KEYS[1], 'owner', ARGV[2], 'expires', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: job, ready, leased. ARGV: id.
var clearScript = r.NewScript(`
if redis.call('HEXISTS', KEYS[1], 'owner') == 0 then return 0 end
redis.call('HDEL', KEYS[1], 'owner', 'expires')
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[2], redis.call('HGET', KEYS[1], 'due'), ARGV[1])
return 1
`)

// Result codes of outcomeScript.
const (
	outcomeApplied   = 1
	outcomeMissing   = -1
	outcomeLeaseLost = -2
	outcomeConflict  = -3
)

// KEYS: job, ready, leased, ids, target.
// ARGV: id, owner, expected body, mode, new body, new due, target record.
// mode "move" deletes the job and, when a record is given, stores it under
// KEYS[5]; mode "update" replaces body and due and returns the job to ready.
var outcomeScript = r.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local owner = redis.call('HGET', KEYS[1], 'owner')
if owner and owner ~= ARGV[2] then return -2 end
if redis.call('HGET', KEYS[1], 'body') ~= ARGV[3] then return -3 end
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[4] == 'move' then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('SREM', KEYS[4], ARGV[1])
  if ARGV[7] ~= '' then redis.call('HSET', KEYS[5], ARGV[1], ARGV[7]) end
else
  redis.call('HDEL', KEYS[1], 'owner', 'expires')
  redis.call('HSET', KEYS[1], 'body', ARGV[5], 'due', ARGV[6])
  redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])
end
return 1
`)

// KEYS: deadletters, job, ready, ids. ARGV: id, body, due score.
var resubmitScript = r.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then return -1 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'body', ARGV[2], 'due', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return 1
`)
